package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"github.com/autoreply-dev/autoreply/internal/automation"
	"github.com/autoreply-dev/autoreply/internal/history"
	"github.com/autoreply-dev/autoreply/internal/inbox"
	"github.com/autoreply-dev/autoreply/internal/template"
)

func newTestServer(t *testing.T) (*Server, *history.MemoryStore, *CycleLog) {
	t.Helper()
	store := history.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	be.Err(t, store.Append(ctx, history.Record{MessageID: "a", Category: "pricing", Action: history.ActionSent, ProcessedAt: now}), nil)
	be.Err(t, store.Append(ctx, history.Record{MessageID: "b", Category: "support", Action: history.ActionDrafted, ProcessedAt: now.Add(time.Minute)}), nil)

	engine, err := template.NewEngine(template.Options{})
	be.Err(t, err, nil)

	cycles := NewCycleLog(2)
	return NewServer("127.0.0.1:0", store, inbox.NewClassifier(inbox.DefaultRules), engine, cycles, nil), store, cycles
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	be.Equal(t, rec.Code, http.StatusOK)
	be.Equal(t, rec.Header().Get("X-Content-Type-Options"), "nosniff")
	be.True(t, strings.Contains(rec.Body.String(), `"ok"`))
}

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/stats", "")
	be.Equal(t, rec.Code, http.StatusOK)

	var got statsResponse
	be.Err(t, json.Unmarshal(rec.Body.Bytes(), &got), nil)
	be.Equal(t, got.Total, 2)
	be.Equal(t, got.ByAction["sent"], 1)
	be.Equal(t, got.ByCategory["support"], 1)
}

func TestHistory(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/api/history?limit=1", "")
	be.Equal(t, rec.Code, http.StatusOK)
	var got []recordResponse
	be.Err(t, json.Unmarshal(rec.Body.Bytes(), &got), nil)
	be.Equal(t, len(got), 1)
	be.Equal(t, got[0].MessageID, "b")

	rec = do(t, s.Handler(), http.MethodGet, "/api/history?limit=zero", "")
	be.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestClassify(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPost, "/api/classify", `{"body":"Hi, can we schedule a demo next week?"}`)
	be.Equal(t, rec.Code, http.StatusOK)
	var got classifyResponse
	be.Err(t, json.Unmarshal(rec.Body.Bytes(), &got), nil)
	be.Equal(t, got.Category, "meeting")
	be.Equal(t, got.Scores["meeting"], 2)
	be.Equal(t, got.Urgency, "low")

	rec = do(t, s.Handler(), http.MethodPost, "/api/classify", `{}`)
	be.Equal(t, rec.Code, http.StatusBadRequest)

	rec = do(t, s.Handler(), http.MethodPost, "/api/classify", `not json`)
	be.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestTemplates(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/templates", "")
	be.Equal(t, rec.Code, http.StatusOK)
	be.True(t, strings.Contains(rec.Body.String(), "product_info"))
}

func TestCycles(t *testing.T) {
	s, _, cycles := newTestServer(t)
	cycles.Add(&automation.CycleReport{CycleID: "c1"})
	cycles.Add(&automation.CycleReport{CycleID: "c2"})
	cycles.Add(&automation.CycleReport{CycleID: "c3", Sent: 1})

	rec := do(t, s.Handler(), http.MethodGet, "/api/cycles", "")
	be.Equal(t, rec.Code, http.StatusOK)

	var got []automation.CycleReport
	be.Err(t, json.Unmarshal(rec.Body.Bytes(), &got), nil)
	be.Equal(t, len(got), 2)
	be.Equal(t, got[0].CycleID, "c3")
	be.Equal(t, got[1].CycleID, "c2")
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodDelete, "/api/history", "")
	be.Equal(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestRunWaitsForWork(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	var finished atomic.Bool
	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run(ctx, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			// an in-flight send finishing after cancellation
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		})
	}()

	<-started
	cancel()
	be.Err(t, <-errc, nil)
	be.True(t, finished.Load())
}

func TestRunStopsWhenWorkFails(t *testing.T) {
	s, _, _ := newTestServer(t)
	err := s.Run(context.Background(), func(ctx context.Context) error {
		return errors.New("mailbox gone")
	})
	be.Err(t, err, "mailbox gone")
}
