package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client is a thin NATS wrapper for fire-and-forget event publication.
type Client struct {
	conn *nats.Conn
}

// Connect dials NATS. An empty URL returns (nil, nil) so callers can treat
// event publication as optional.
func Connect(url, serviceName string) (*Client, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name(serviceName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends a payload to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	_ = c.conn.Drain()
}
