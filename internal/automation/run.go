package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode selects how Run drives the responder
type Mode int

const (
	ModeOnce Mode = iota
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeOnce:
		return "once"
	case ModeContinuous:
		return "continuous"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a CLI value into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once", "":
		return ModeOnce, nil
	case "continuous":
		return ModeContinuous, nil
	}
	return 0, fmt.Errorf("unknown mode %q (once or continuous)", s)
}

// Run executes one cycle or loops until ctx is cancelled
func (r *Responder) Run(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeOnce:
		_, err := r.RunOnce(ctx)
		return err
	case ModeContinuous:
		return r.RunContinuous(ctx)
	}
	return fmt.Errorf("unknown mode %v", mode)
}

// RunContinuous runs a cycle every CheckInterval. Cycle errors are logged
// and the loop keeps going; it returns ctx.Err() once ctx is cancelled.
func (r *Responder) RunContinuous(ctx context.Context) error {
	interval := r.config.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r.logger.Info("starting continuous mode", zap.Duration("interval", interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping continuous mode")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("cycle failed", zap.Error(err))
		}
		timer.Reset(interval)
	}
}
