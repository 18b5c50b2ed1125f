// Package presence detects whether a wallet has announced itself within a
// bounded time budget.
package presence

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBudget is how long Detect waits for the flag by default
	DefaultBudget = time.Second

	// PollInterval is the spacing between flag checks
	PollInterval = 500 * time.Millisecond
)

// IFlag reports whether the wallet's presence flag is currently set
type IFlag interface {
	Present(ctx context.Context) bool
}

// FlagFunc adapts a plain function to IFlag
type FlagFunc func(ctx context.Context) bool

func (f FlagFunc) Present(ctx context.Context) bool {
	return f(ctx)
}

// Detect returns true as soon as flag reports present, checking immediately
// and then every PollInterval. It returns false once budget elapses or ctx
// ends. A non-positive budget uses DefaultBudget.
func Detect(ctx context.Context, flag IFlag, budget time.Duration) bool {
	if flag == nil {
		return false
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	if flag.Present(ctx) {
		return true
	}

	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if flag.Present(ctx) {
				return true
			}
		}
	}
}

// HTTPFlag treats a 200 from URL as the presence flag being set
type HTTPFlag struct {
	URL    string
	Client *http.Client
	Logger *zap.Logger
}

func NewHTTPFlag(url string, logger *zap.Logger) *HTTPFlag {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFlag{
		URL:    url,
		Client: &http.Client{Timeout: PollInterval},
		Logger: logger,
	}
}

func (f *HTTPFlag) Present(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		f.Logger.Sugar().Warnw("Invalid presence URL", "url", f.URL, "error", err)
		return false
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		f.Logger.Sugar().Debugw("Presence probe failed", "url", f.URL, "error", err)
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
