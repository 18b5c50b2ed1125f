package wsSurface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// RetryConfig configures dial retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// Config holds the websocket surface settings
type Config struct {
	// URL is the bridge endpoint, ws:// or wss://
	URL string

	Retry RetryConfig

	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	// MaxFrameSize caps a single inbound frame in bytes
	MaxFrameSize int64
}

// DefaultConfig returns a config for url with default timeouts
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		Retry:        DefaultRetryConfig,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		MaxFrameSize: 1 << 20,
	}
}

// Surface is a bridging surface backed by a websocket connection to a
// hosted bridge. Each Attach dials a new connection.
type Surface struct {
	config *Config
	logger *zap.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	stopPing   context.CancelFunc
	resizeMode types.ResizeMode
	collapsed  bool
}

// Compile-time checks
var (
	_ transport.ISurface = (*Surface)(nil)
	_ transport.ILayout  = (*Surface)(nil)
)

// NewSurface validates cfg and returns a detached surface
func NewSurface(cfg *Config, logger *zap.Logger) (*Surface, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("bridge URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge URL must be ws or wss: %s", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := *cfg
	defaults := DefaultConfig(cfg.URL)
	if c.Retry.MaxAttempts < 1 {
		c.Retry = defaults.Retry
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaults.PongTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaults.MaxFrameSize
	}

	return &Surface{
		config: &c,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// buildAttachURL adds the attach options as query parameters
func buildAttachURL(base string, opts *transport.AttachOptions) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if opts.Network != "" {
		q.Set("cluster", opts.Network)
	}
	if opts.Origin != "" {
		q.Set("origin", opts.Origin)
	}
	if opts.PreferredAdapter != "" {
		q.Set("adapter", opts.PreferredAdapter)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Surface) Attach(ctx context.Context, opts *transport.AttachOptions) (transport.IPoster, error) {
	if opts == nil {
		opts = &transport.AttachOptions{}
	}
	s.mu.Lock()
	attached := s.conn != nil
	s.mu.Unlock()
	if attached {
		return nil, fmt.Errorf("surface already attached")
	}

	target, err := buildAttachURL(s.config.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}

	conn, err := s.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(s.config.MaxFrameSize)

	pingCtx, stopPing := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		stopPing()
		_ = conn.Close()
		return nil, fmt.Errorf("surface already attached")
	}
	s.conn = conn
	s.stopPing = stopPing
	s.resizeMode = ""
	s.collapsed = false
	s.mu.Unlock()

	s.logger.Sugar().Infow("Attached bridge surface",
		"url", s.config.URL,
		"network", opts.Network,
		"preferred_adapter", opts.PreferredAdapter,
	)

	go s.pingLoop(pingCtx, conn)
	go s.readLoop(conn, opts)

	return transport.PosterFunc(func(ctx context.Context, env *types.OutboundEnvelope) error {
		return s.post(conn, env)
	}), nil
}

func (s *Surface) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	retry := s.config.Retry
	backoff := retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		conn, resp, err := s.dialer.DialContext(ctx, target, nil)
		if err == nil {
			return conn, nil
		}
		if resp != nil {
			_ = resp.Body.Close()
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		lastErr = err
		s.logger.Sugar().Warnw("Failed to dial bridge",
			"attempt", attempt+1,
			"max_attempts", retry.MaxAttempts,
			"error", err,
		)

		if attempt < retry.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * retry.BackoffMultiple)
			if backoff > retry.MaxBackoff {
				backoff = retry.MaxBackoff
			}
		}
	}
	return nil, fmt.Errorf("failed to dial bridge after %d attempts: %w", retry.MaxAttempts, lastErr)
}

func (s *Surface) post(conn *websocket.Conn, env *types.OutboundEnvelope) error {
	s.mu.Lock()
	current := s.conn == conn
	s.mu.Unlock()
	if !current {
		return types.ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (s *Surface) readLoop(conn *websocket.Conn, opts *transport.AttachOptions) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
				if s.stopPing != nil {
					s.stopPing()
					s.stopPing = nil
				}
			}
			s.mu.Unlock()
			_ = conn.Close()

			// a Detach already replaced or cleared the connection
			if !current {
				return
			}
			s.logger.Sugar().Infow("Bridge surface closed", "error", err)
			if opts.OnClose != nil {
				opts.OnClose(err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		if opts.OnFrame != nil {
			opts.OnFrame(data)
		}
	}
}

func (s *Surface) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Sugar().Debugw("Ping failed", "error", err)
				return
			}
		}
	}
}

// Detach closes the connection without reporting it through OnClose.
// Idempotent.
func (s *Surface) Detach() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.stopPing != nil {
		s.stopPing()
		s.stopPing = nil
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	s.logger.Sugar().Infow("Detached bridge surface", "url", s.config.URL)
	if err := conn.Close(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return fmt.Errorf("failed to close bridge connection: %w", err)
	}
	return nil
}

// Attached reports whether a connection is live
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Resize records the layout the bridge asked for. A headless surface has
// nothing to draw.
func (s *Surface) Resize(mode types.ResizeMode, params json.RawMessage) {
	s.mu.Lock()
	s.resizeMode = mode
	s.mu.Unlock()
	s.logger.Sugar().Debugw("Bridge requested resize", "mode", mode, "params", string(params))
}

func (s *Surface) Collapse() {
	s.mu.Lock()
	s.collapsed = true
	s.mu.Unlock()
	s.logger.Sugar().Debugw("Bridge surface collapsed")
}

// Layout returns the last requested resize mode and whether the surface is collapsed
func (s *Surface) Layout() (types.ResizeMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resizeMode, s.collapsed
}
