package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
)

// Client enqueues ledger tasks on behalf of the HTTP API.
type Client struct {
	client *asynq.Client
	now    func() time.Time
}

var _ inventory.ReconcileEnqueuer = (*Client)(nil)

// NewClient opens an Asynq client on redisOpts.
func NewClient(redisOpts asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts), now: time.Now}
}

// EnqueueReconcile queues a reconciliation run and returns its task id.
func (c *Client) EnqueueReconcile(ctx context.Context, repair bool) (string, error) {
	task, err := NewReconcileTask(ReconcilePayload{Repair: repair, RequestedAt: c.now().UTC(), Source: "api"})
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.client.Close() }

// RedisOpt converts a host:port or redis:// address into Asynq options.
func RedisOpt(addr string) (asynq.RedisClientOpt, error) {
	opts, err := cache.Options(addr)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}
