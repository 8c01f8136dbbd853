package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kypseli/hive/internal/hive"
	"github.com/nats-io/nats.go"
)

// Client is a thin wrapper over a NATS connection to the bus.
type Client struct {
	conn *nats.Conn
}

func NewClient(b *Bus) (*Client, error) {
	conn, err := nats.Connect(b.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

func (c *Client) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(subject, data, timeout)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}

// mirror publishes a history message to its domain subject. Called with
// the bus lock held so subject order matches log order.
func (b *Bus) mirror(msg hive.Message) {
	if b.client == nil {
		client, err := NewClient(b)
		if err != nil {
			slog.Warn("bus mirror client failed", "error", err)
			return
		}
		b.client = client
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.client.Publish(SubjectDomain(msg.Domain), data); err != nil {
		slog.Warn("bus mirror publish failed", "domain", msg.Domain, "error", err)
	}
}
