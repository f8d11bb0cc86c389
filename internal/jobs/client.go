package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client publishes cart tasks over NATS and waits for their results.
type Client struct {
	conn *nats.Conn
}

func NewClient(conn *nats.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) AddProducts(ctx context.Context, task AddTask) (*TaskResult, error) {
	return c.request(ctx, SubjectAdd, task)
}

func (c *Client) RemoveProduct(ctx context.Context, task RemoveTask) (*TaskResult, error) {
	return c.request(ctx, SubjectRemove, task)
}

func (c *Client) ApplyVoucher(ctx context.Context, task VoucherTask) (*TaskResult, error) {
	return c.request(ctx, SubjectVoucher, task)
}

func (c *Client) ExtendExpired(ctx context.Context, task ExtendTask) (*TaskResult, error) {
	return c.request(ctx, SubjectExtend, task)
}

func (c *Client) SetAddons(ctx context.Context, task AddonsTask) (*TaskResult, error) {
	return c.request(ctx, SubjectAddons, task)
}

func (c *Client) Clear(ctx context.Context, task ClearTask) (*TaskResult, error) {
	return c.request(ctx, SubjectClear, task)
}

func (c *Client) request(ctx context.Context, subject string, task any) (*TaskResult, error) {
	if err := Validate(task); err != nil {
		return nil, fmt.Errorf("invalid %s task: %w", subject, err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s task: %w", subject, err)
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", subject, err)
	}

	var result TaskResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s reply: %w", subject, err)
	}
	return &result, nil
}
