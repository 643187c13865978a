// Package client connects command-line tools to the chatterbox daemon
// serving a session, over that session's Unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatterbox/internal/api"
	"github.com/matheus3301/chatterbox/internal/lock"
	"github.com/matheus3301/chatterbox/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNotRunning means no daemon serves the session.
var ErrNotRunning = errors.New("daemon not running")

// Client holds the typed service clients of one daemon.
type Client struct {
	conn    *grpc.ClientConn
	name    string
	Session *api.SessionServiceClient
	Chat    *api.ChatServiceClient
}

// Dial connects to the daemon serving session name. It returns an error
// wrapping ErrNotRunning when the session has no socket or its lock is
// free, so callers don't wait on a dead socket.
func Dial(name string) (*Client, error) {
	path := session.SocketPath(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session %q: %w", name, ErrNotRunning)
	}
	if pid, err := lock.Holder(session.LockPath(name)); err == nil && pid == 0 {
		return nil, fmt.Errorf("session %q: %w (stale socket %s)", name, ErrNotRunning, path)
	}
	c, err := New(path)
	if err != nil {
		return nil, err
	}
	c.name = name
	return c, nil
}

// New connects to the daemon socket at socketPath.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		api.CallOption(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:    conn,
		Session: api.NewSessionServiceClient(conn),
		Chat:    api.NewChatServiceClient(conn),
	}, nil
}

// Name returns the session the client was dialed for, or "" when it was
// created from a socket path.
func (c *Client) Name() string { return c.name }

// WaitReady blocks until the daemon reports SERVING or ctx ends. A
// freshly started daemon takes a moment to bind its socket.
func (c *Client) WaitReady(ctx context.Context) error {
	health := healthpb.NewHealthClient(c.conn)
	for {
		resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{},
			grpc.WaitForReady(true), grpc.CallContentSubtype("proto"))
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("daemon health is %s", resp.GetStatus())
			}
			return fmt.Errorf("wait for daemon: %w", errors.Join(ctx.Err(), err))
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
