package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crm_pipeline_backend/platform/logger"
)

func newTestGate(t *testing.T, quota int) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gate := NewWithClient(client, quota, logger.New("test"))
	gate.now = func() time.Time {
		return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	}
	return gate, srv
}

func TestIsActorEligibleFreshActor(t *testing.T) {
	gate, _ := newTestGate(t, 2)

	eligible, err := gate.IsActorEligible(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eligible {
		t.Error("fresh actor should be eligible")
	}
}

func TestIsActorEligibleQuotaReached(t *testing.T) {
	gate, _ := newTestGate(t, 2)
	actor := uuid.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		entity := uuid.New()
		if err := gate.RecordAssignment(ctx, actor, entity); err != nil {
			t.Fatalf("record assignment: %v", err)
		}
		if err := gate.RecordFirstContact(ctx, actor, entity); err != nil {
			t.Fatalf("record first contact: %v", err)
		}
	}

	eligible, err := gate.IsActorEligible(ctx, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eligible {
		t.Error("actor at quota should not be eligible")
	}
}

func TestIsActorEligibleUntouchedPreviousDay(t *testing.T) {
	gate, _ := newTestGate(t, 10)
	actor := uuid.New()
	entity := uuid.New()
	ctx := context.Background()

	// Assignment happened yesterday and was never touched.
	gate.now = func() time.Time {
		return time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)
	}
	if err := gate.RecordAssignment(ctx, actor, entity); err != nil {
		t.Fatalf("record assignment: %v", err)
	}

	gate.now = func() time.Time {
		return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	}
	eligible, err := gate.IsActorEligible(ctx, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eligible {
		t.Error("actor with untouched previous-day work should not be eligible")
	}

	// First contact clears the block.
	if err := gate.RecordFirstContact(ctx, actor, entity); err != nil {
		t.Fatalf("record first contact: %v", err)
	}
	eligible, err = gate.IsActorEligible(ctx, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eligible {
		t.Error("actor should be eligible after touching yesterday's work")
	}
}

func TestAllowAllGate(t *testing.T) {
	eligible, err := AllowAll().IsActorEligible(context.Background(), uuid.New())
	if err != nil || !eligible {
		t.Fatalf("AllowAll() = (%v, %v), want (true, nil)", eligible, err)
	}
}
