// Package quota implements the daily-lead eligibility gate on Redis.
//
// An agent may open new agent_initial work only while under the office's
// daily quota and with no opportunities still untouched from the previous
// day. Counters live in Redis with a two-day TTL so the keyspace cleans
// itself up.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"
)

const (
	dailyCountKeyFmt = "quota:daily:%s:%s"     // actorID, yyyy-mm-dd
	pendingKeyFmt    = "quota:untouched:%s:%s" // actorID, yyyy-mm-dd
	keyTTL           = 48 * time.Hour
)

// Gate is the Redis-backed eligibility gate.
type Gate struct {
	rdb   *redis.Client
	quota int
	log   *logger.Logger
	now   func() time.Time
}

// New connects to Redis and returns the gate.
func New(cfg config.QuotaConfig, log *logger.Logger) (*Gate, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opt), cfg.GetDailyLeadQuota(), log), nil
}

// NewWithClient builds a gate around an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, quota int, log *logger.Logger) *Gate {
	return &Gate{rdb: rdb, quota: quota, log: log, now: time.Now}
}

// IsActorEligible reports whether the actor may take on new pipeline work
// today. Eligibility requires headroom under the daily quota and an empty
// untouched set from the previous day.
func (g *Gate) IsActorEligible(ctx context.Context, actorID uuid.UUID) (bool, error) {
	today := g.now().Format("2006-01-02")
	yesterday := g.now().AddDate(0, 0, -1).Format("2006-01-02")

	count, err := g.rdb.Get(ctx, fmt.Sprintf(dailyCountKeyFmt, actorID, today)).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("read daily count: %w", err)
	}
	if count >= g.quota {
		g.log.Info("daily quota reached", "actor_id", actorID, "count", count, "quota", g.quota)
		return false, nil
	}

	untouched, err := g.rdb.SCard(ctx, fmt.Sprintf(pendingKeyFmt, actorID, yesterday)).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("read untouched set: %w", err)
	}
	if untouched > 0 {
		g.log.Info("previous-day work still untouched", "actor_id", actorID, "untouched", untouched)
		return false, nil
	}

	return true, nil
}

// RecordAssignment increments the actor's daily counter and marks the
// opportunity untouched until first contact.
func (g *Gate) RecordAssignment(ctx context.Context, actorID, entityID uuid.UUID) error {
	today := g.now().Format("2006-01-02")
	countKey := fmt.Sprintf(dailyCountKeyFmt, actorID, today)
	pendingKey := fmt.Sprintf(pendingKeyFmt, actorID, today)

	pipe := g.rdb.TxPipeline()
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, keyTTL)
	pipe.SAdd(ctx, pendingKey, entityID.String())
	pipe.Expire(ctx, pendingKey, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record assignment: %w", err)
	}
	return nil
}

// RecordFirstContact clears the opportunity from the actor's untouched set.
// Called when the first call attempt lands on the ledger.
func (g *Gate) RecordFirstContact(ctx context.Context, actorID, entityID uuid.UUID) error {
	// Contact may happen the day after assignment; clear both windows.
	for _, day := range []time.Time{g.now(), g.now().AddDate(0, 0, -1)} {
		key := fmt.Sprintf(pendingKeyFmt, actorID, day.Format("2006-01-02"))
		if err := g.rdb.SRem(ctx, key, entityID.String()).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("clear untouched entry: %w", err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (g *Gate) Close() error {
	return g.rdb.Close()
}

// AllowAll returns a gate that admits every actor. Used when Redis is not
// configured so the engine still runs in development setups.
func AllowAll() allowAllGate {
	return allowAllGate{}
}

type allowAllGate struct{}

func (allowAllGate) IsActorEligible(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}
