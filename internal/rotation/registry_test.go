package rotation

import (
	"context"
	"testing"

	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/health"
	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/types"
)

func newTestRegistry(t *testing.T, ids ...string) (*Registry, *health.Store) {
	t.Helper()
	store := health.NewStore(persist.NewMemoryAdapter(), "test", config.CooldownConfig{
		FailureThreshold: 1,
		BackoffBaseMs:    60000,
		BackoffCapMs:     300000,
	})
	reg := NewRegistry(types.KindProxy, NewRoundRobin(), store, nil)
	reg.SetCandidates(candidates(ids...))
	return reg, store
}

func TestRegistryPickConsultsHealth(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t, "a", "b")

	// One soft failure crosses the threshold of 1 and cools "a" down.
	if _, err := store.Record(ctx, types.KindProxy, "a", types.OutcomeSoftFailure); err != nil {
		t.Fatalf("record: %v", err)
	}

	for i := 0; i < 3; i++ {
		id, err := reg.Pick(ctx, "", nil)
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if id != "b" {
			t.Fatalf("pick = %s, want b while a cools down", id)
		}
	}
}

func TestRegistryPickHonorsExclusions(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "a", "b")

	id, err := reg.Pick(ctx, "", map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if id != "b" {
		t.Errorf("pick = %s, want b with a excluded", id)
	}

	if _, err := reg.Pick(ctx, "", map[string]bool{"a": true, "b": true}); err != types.ErrNoneAvailable {
		t.Errorf("err = %v, want ErrNoneAvailable with everything excluded", err)
	}
}

func TestRegistryEmptyPool(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Pick(context.Background(), "", nil); err != types.ErrNoneAvailable {
		t.Errorf("err = %v, want ErrNoneAvailable", err)
	}
}

func TestRegistryRefreshSwapsCandidates(t *testing.T) {
	ctx := context.Background()
	store := health.NewStore(persist.NewMemoryAdapter(), "test", config.CooldownConfig{
		FailureThreshold: 1,
		BackoffBaseMs:    60000,
		BackoffCapMs:     300000,
	})

	generation := candidates("old")
	reg := NewRegistry(types.KindProxy, NewRoundRobin(), store, func(context.Context) ([]Candidate, error) {
		return generation, nil
	})
	if err := reg.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if reg.Size() != 1 {
		t.Fatalf("size = %d, want 1", reg.Size())
	}

	generation = candidates("new-1", "new-2")
	if err := reg.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if reg.Size() != 2 {
		t.Errorf("size after refresh = %d, want 2", reg.Size())
	}
	for _, c := range reg.Candidates() {
		if c.ID == "old" {
			t.Error("stale candidate survived refresh")
		}
	}
}
