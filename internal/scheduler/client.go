package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/platform/config"
)

// Client enqueues deferred pipeline tasks on asynq.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleSignatureReminder enqueues the signature-pending nudge.
func (c *Client) ScheduleSignatureReminder(ctx context.Context, ref domain.EntityRef, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewSignatureReminderTask(payloadFor(ref))
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessAt(runAt), asynq.Queue(c.queue))
	return err
}

// ScheduleRelationshipFollowUp enqueues the long-term client follow-up.
func (c *Client) ScheduleRelationshipFollowUp(ctx context.Context, ref domain.EntityRef, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewRelationshipFollowUpTask(payloadFor(ref))
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessAt(runAt), asynq.Queue(c.queue))
	return err
}

func payloadFor(ref domain.EntityRef) PipelinePayload {
	return PipelinePayload{
		EntityType: string(ref.EntityType),
		EntityID:   ref.EntityID.String(),
	}
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		tlsConfig = opt.TLSConfig.Clone()
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
