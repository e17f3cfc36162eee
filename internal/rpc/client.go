package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// Client sends single requests to a server.
type Client struct {
	// Address is the server's host:port.
	Address string

	// DialTimeout bounds connection setup. Zero means no limit.
	DialTimeout time.Duration
}

// NewClient creates a client for addr.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddress
	}
	return &Client{Address: addr, DialTimeout: 5 * time.Second}
}

// Do sends req and returns the server's response text. The response is
// read until the server closes the connection; cancel ctx to give up.
func (c *Client) Do(ctx context.Context, req *Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return c.send(ctx, payload)
}

func (c *Client) send(ctx context.Context, payload []byte) (string, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", c.Address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return "", fmt.Errorf("half-close: %w", err)
		}
	}

	out, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return string(out), ctx.Err()
		}
		return string(out), fmt.Errorf("read response: %w", err)
	}
	return string(out), nil
}
