package providerClient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

const (
	// CodeSurfaceClosed is returned by providers whose approval surface was closed
	CodeSurfaceClosed = 4900

	rpcPath    = "/rpc"
	statusPath = "/status"

	// maxStatusFailures is the number of consecutive failed status probes
	// after which the surface is considered gone
	maxStatusFailures = 3
)

// Config holds the configuration for a provider client
type Config struct {
	// BaseURL is the provider endpoint, e.g. http://127.0.0.1:8787
	BaseURL string
	// Provider names the wallet behind the endpoint
	Provider string
	// Timeout bounds every RPC
	Timeout time.Duration
	// StatusTimeout bounds a single liveness probe
	StatusTimeout time.Duration
}

// DefaultConfig returns a config pointing at a local provider
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://127.0.0.1:8787",
		Timeout:       2 * time.Minute,
		StatusTimeout: time.Second,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type connectResult struct {
	PublicKey string `json:"publicKey"`
}

type statusResult struct {
	Open bool `json:"open"`
}

// Client talks to a delegated provider over HTTP JSON-RPC
type Client struct {
	config *Config
	logger *zap.Logger
	nextID atomic.Uint64

	mu             sync.Mutex
	httpClient     *http.Client
	open           bool
	statusFailures int
}

// NewClient creates a provider client. Nil config uses DefaultConfig.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, fmt.Errorf("provider base URL must be http or https: %s", config.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := *config
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultConfig().StatusTimeout
	}

	return &Client{
		config:     &cfg,
		logger:     logger,
		httpClient: &http.Client{},
	}, nil
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = client
}

func (c *Client) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

func (c *Client) Connect(ctx context.Context) (*types.PublicKey, error) {
	// the surface opens as soon as the provider is asked to connect
	c.setOpen(true)

	params := map[string]string{}
	if c.config.Provider != "" {
		params["provider"] = c.config.Provider
	}
	raw, err := c.call(ctx, "connect", params)
	if err != nil {
		c.setOpen(false)
		return nil, errors.Wrap(err, "provider connect failed")
	}

	var result connectResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.setOpen(false)
		return nil, errors.Wrap(err, "failed to decode connect result")
	}
	pk, err := types.ParsePublicKey(result.PublicKey)
	if err != nil {
		c.setOpen(false)
		return nil, errors.Wrap(err, "provider returned invalid public key")
	}

	c.logger.Sugar().Infow("Provider approved connection",
		"provider", c.config.Provider,
		"public_key", pk.String(),
	)
	return pk, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	defer c.setOpen(false)
	if _, err := c.call(ctx, "disconnect", nil); err != nil {
		return errors.Wrap(err, "provider disconnect failed")
	}
	return nil
}

// SurfaceOpen probes the provider's status endpoint while the surface is
// believed open. A closed report, or repeated probe failures, latch it closed.
func (c *Client) SurfaceOpen() bool {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.StatusTimeout)
	defer cancel()

	status, err := c.status(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.statusFailures++
		c.logger.Sugar().Debugw("Provider status probe failed",
			"failures", c.statusFailures,
			"error", err,
		)
		if c.statusFailures >= maxStatusFailures {
			c.open = false
		}
		return c.open
	}
	c.statusFailures = 0
	if !status.Open {
		c.open = false
	}
	return c.open
}

func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
	c.statusFailures = 0
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+rpcPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Sugar().Debugw("Calling provider", "method", method, "provider", c.config.Provider)
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reach provider at %s", c.config.BaseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !types.IsEmptyField(rpcResp.Error) {
		rpcErr := types.NewRPCError(rpcResp.Error)
		if rpcErr.Code == CodeSurfaceClosed {
			c.setOpen(false)
		}
		return nil, rpcErr
	}
	return rpcResp.Result, nil
}

func (c *Client) status(ctx context.Context) (*statusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+statusPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var status statusResult
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}
