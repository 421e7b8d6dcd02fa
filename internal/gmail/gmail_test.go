package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/autoreply-dev/autoreply/internal/inbox"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func apiMessage() *gmail.Message {
	return &gmail.Message{
		Id:           "a1",
		ThreadId:     "t1",
		LabelIds:     []string{"INBOX", "UNREAD"},
		InternalDate: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: `"Alice Smith" <alice@example.com>`},
				{Name: "To", Value: "sales@example.com"},
				{Name: "Subject", Value: "Pricing"},
				{Name: "Message-ID", Value: "<orig@example.com>"},
				{Name: "References", Value: "<root@example.com>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("How much is it?")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>How much is it?</p>")}},
			},
		},
	}
}

func TestParseMessage(t *testing.T) {
	msg := ParseMessage(apiMessage())

	be.Equal(t, msg.ID, "a1")
	be.Equal(t, msg.ThreadID, "t1")
	be.Equal(t, msg.From, "alice@example.com")
	be.Equal(t, msg.FromName, "Alice Smith")
	be.Equal(t, msg.Subject, "Pricing")
	be.Equal(t, msg.MessageID, "<orig@example.com>")
	be.Equal(t, msg.References, []string{"<root@example.com>"})
	be.Equal(t, msg.Body, "How much is it?")
	be.True(t, msg.HasLabel(inbox.LabelUnread))
	be.True(t, msg.ReceivedAt.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestParseMessageHTMLOnlyAndAutoSubmitted(t *testing.T) {
	m := apiMessage()
	m.Payload.Headers = append(m.Payload.Headers, &gmail.MessagePartHeader{Name: "Auto-Submitted", Value: "auto-replied"})
	m.Payload.Parts = []*gmail.MessagePart{
		{MimeType: "multipart/related", Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("<p>Out of office</p>"))}},
		}},
	}

	msg := ParseMessage(m)
	be.Equal(t, msg.Body, "")
	be.Equal(t, msg.PlainBody(), "Out of office")
	be.True(t, msg.HasLabel(inbox.LabelAutoReply))
	be.True(t, inbox.IsAutoReply(&msg))
}

func TestParseMessageBareFrom(t *testing.T) {
	m := apiMessage()
	m.Payload.Headers[0].Value = "<bob@example.com>"
	msg := ParseMessage(m)
	be.Equal(t, msg.From, "bob@example.com")
}

// fakeGmail serves the subset of the Gmail REST API the client uses
type fakeGmail struct {
	list     []*gmail.Message // defaults to the single apiMessage
	mu       sync.Mutex
	query    string
	sent     *gmail.Message
	draft    *gmail.Draft
	modified string
	removed  []string
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		list := f.list
		f.mu.Unlock()
		if list == nil {
			writeJSON(w, &gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "a1", ThreadId: "t1"}}})
			return
		}
		refs := make([]*gmail.Message, 0, len(list))
		for _, m := range list {
			refs = append(refs, &gmail.Message{Id: m.Id, ThreadId: m.ThreadId})
		}
		writeJSON(w, &gmail.ListMessagesResponse{Messages: refs})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		list := f.list
		f.mu.Unlock()
		if list == nil {
			writeJSON(w, apiMessage())
			return
		}
		for _, m := range list {
			if m.Id == r.PathValue("id") && m.Payload != nil {
				writeJSON(w, m)
				return
			}
		}
		http.Error(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`, http.StatusNotFound)
	})
	mux.HandleFunc("GET /gmail/v1/users/me/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &gmail.Thread{Id: r.PathValue("id"), Messages: []*gmail.Message{apiMessage()}})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var m gmail.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sent = &m
		f.mu.Unlock()
		writeJSON(w, &gmail.Message{Id: "s1", ThreadId: m.ThreadId})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/drafts", func(w http.ResponseWriter, r *http.Request) {
		var d gmail.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.draft = &d
		f.mu.Unlock()
		writeJSON(w, &gmail.Draft{Id: "d1", Message: d.Message})
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		var req gmail.ModifyMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.modified = r.PathValue("id")
		f.removed = req.RemoveLabelIds
		f.mu.Unlock()
		writeJSON(w, &gmail.Message{Id: r.PathValue("id")})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeGmail) {
	t.Helper()
	fake := &fakeGmail{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	be.Err(t, err, nil)
	return NewClientWithService(svc, "me", "sales@example.com", nil), fake
}

func decodeRaw(t *testing.T, raw string) string {
	t.Helper()
	data, err := base64.URLEncoding.DecodeString(raw)
	be.Err(t, err, nil)
	return string(data)
}

func TestClientListUnread(t *testing.T) {
	c, fake := newTestClient(t)

	msgs, err := c.ListUnread(context.Background(), 5)
	be.Err(t, err, nil)
	be.Equal(t, len(msgs), 1)
	be.Equal(t, msgs[0].ID, "a1")
	be.Equal(t, msgs[0].Body, "How much is it?")

	be.True(t, strings.Contains(fake.query, "labelIds=INBOX"))
	be.True(t, strings.Contains(fake.query, "labelIds=UNREAD"))
	be.True(t, strings.Contains(fake.query, "maxResults=5"))
}

func TestClientListUnreadSkipsMissing(t *testing.T) {
	c, fake := newTestClient(t)
	newer := apiMessage()
	older := apiMessage()
	older.Id = "b2"
	older.InternalDate = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	// gone was deleted between list and get
	fake.mu.Lock()
	fake.list = []*gmail.Message{newer, {Id: "gone", ThreadId: "t9"}, older}
	fake.mu.Unlock()

	msgs, err := c.ListUnread(context.Background(), 5)
	be.Err(t, err, nil)
	be.Equal(t, len(msgs), 2)
	be.Equal(t, msgs[0].ID, "b2")
	be.Equal(t, msgs[1].ID, "a1")
}

func TestClientAddress(t *testing.T) {
	c, _ := newTestClient(t)
	be.Equal(t, c.Address(), "sales@example.com")
}

func TestClientGetThread(t *testing.T) {
	c, _ := newTestClient(t)
	msgs, err := c.GetThread(context.Background(), "t1")
	be.Err(t, err, nil)
	be.Equal(t, len(msgs), 1)
	be.Equal(t, msgs[0].ThreadID, "t1")
}

func TestClientSendReply(t *testing.T) {
	c, fake := newTestClient(t)
	msg := ParseMessage(apiMessage())

	be.Err(t, c.SendReply(context.Background(), &msg, "Hi Alice,\n\nHere are our prices.\n"), nil)
	be.Equal(t, fake.sent.ThreadId, "t1")

	raw := decodeRaw(t, fake.sent.Raw)
	be.True(t, strings.Contains(raw, "Subject: Re: Pricing"))
	be.True(t, strings.Contains(raw, "In-Reply-To: <orig@example.com>"))
	be.True(t, strings.Contains(raw, "<root@example.com>"))
	be.True(t, strings.Contains(raw, "Here are our prices."))
}

func TestClientCreateDraft(t *testing.T) {
	c, fake := newTestClient(t)
	msg := ParseMessage(apiMessage())

	be.Err(t, c.CreateDraft(context.Background(), &msg, "Draft body\n"), nil)
	be.Equal(t, fake.draft.Message.ThreadId, "t1")
	be.True(t, strings.Contains(decodeRaw(t, fake.draft.Message.Raw), "Draft body"))
}

func TestClientMarkRead(t *testing.T) {
	c, fake := newTestClient(t)
	msg := ParseMessage(apiMessage())

	be.Err(t, c.MarkRead(context.Background(), &msg), nil)
	be.Equal(t, fake.modified, "a1")
	be.Equal(t, fake.removed, []string{"UNREAD"})
}
