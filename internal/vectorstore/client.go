package vectorstore

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

const (
	// DefaultHost is the default Qdrant host.
	DefaultHost = "localhost"

	// DefaultPort is the default Qdrant gRPC port.
	DefaultPort = 6334

	// DefaultTimeout is the default operation timeout.
	DefaultTimeout = 30 * time.Second
)

// ClientConfig holds configuration for the vector store client.
type ClientConfig struct {
	// Host is the Qdrant server host.
	Host string

	// Port is the Qdrant gRPC port.
	Port int

	// APIKey for authentication (optional).
	APIKey string

	// UseTLS enables TLS connection.
	UseTLS bool

	// Timeout for operations.
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:    DefaultHost,
		Port:    DefaultPort,
		Timeout: DefaultTimeout,
	}
}

// ParseURL builds a ClientConfig from a URL-ish address. Accepted forms:
// "host", "host:port", "http://host:port", "https://host:port".
// A scheme URL names the Qdrant REST endpoint, so its port (default 6333)
// maps to the adjacent gRPC port. Bare host:port is taken as a gRPC address
// directly. An https scheme enables TLS.
func ParseURL(raw string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if raw == "" {
		return cfg, nil
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		cfg.Host = u.Hostname()
		cfg.UseTLS = u.Scheme == "https"
		httpPort := 6333
		if p := u.Port(); p != "" {
			httpPort, err = strconv.Atoi(p)
			if err != nil {
				return cfg, fmt.Errorf("invalid port in %q: %w", raw, err)
			}
		}
		cfg.Port = httpPort + 1
		return cfg, nil
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// Bare hostname
		cfg.Host = raw
		return cfg, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return cfg, fmt.Errorf("invalid port in %q: %w", raw, err)
	}
	cfg.Host = host
	cfg.Port = port
	return cfg, nil
}

// Client wraps the Qdrant Go client with routing memory operations.
type Client struct {
	client *qdrant.Client
	config ClientConfig
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new vector store client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	// The connection idles between queries; keepalives stop intermediaries
	// from silently dropping it.
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// NewClientFromURL creates a client from a URL-ish address and API key.
func NewClientFromURL(raw, apiKey string) (*Client, error) {
	cfg, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	cfg.APIKey = apiKey
	return NewClient(cfg)
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.client.Close()
}

// HealthCheck verifies the Qdrant server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if reply.GetTitle() == "" {
		return fmt.Errorf("unexpected health check response")
	}

	return nil
}

// GetVersion returns the Qdrant server version.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.client.HealthCheck(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get version: %w", err)
	}

	return reply.GetVersion(), nil
}
