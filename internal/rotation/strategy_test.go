package rotation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/types"
)

func allAvailable() View {
	return View{
		Available: func(string) bool { return true },
		Failures:  func(string) int { return 0 },
	}
}

func candidates(ids ...string) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, Candidate{ID: id, Weight: 1.0})
	}
	return out
}

func TestRoundRobinVisitsAllBeforeRepeating(t *testing.T) {
	rr := NewRoundRobin()
	pool := candidates("a", "b", "c")

	seen := make(map[string]int)
	for i := 0; i < len(pool); i++ {
		id, err := rr.Select(pool, allAvailable(), "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		seen[id]++
	}
	for _, c := range pool {
		if seen[c.ID] != 1 {
			t.Errorf("candidate %s selected %d times in one cycle, want 1", c.ID, seen[c.ID])
		}
	}

	// The next pick wraps around to the start of the cycle.
	id, err := rr.Select(pool, allAvailable(), "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if id != "a" {
		t.Errorf("wrap-around pick = %s, want a", id)
	}
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	rr := NewRoundRobin()
	pool := candidates("a", "b", "c")
	view := View{
		Available: func(id string) bool { return id != "b" },
		Failures:  func(string) int { return 0 },
	}

	for i := 0; i < 4; i++ {
		id, err := rr.Select(pool, view, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if id == "b" {
			t.Fatal("selected an unavailable candidate")
		}
	}
}

func TestSelectAllCoolingDown(t *testing.T) {
	view := View{
		Available: func(string) bool { return false },
		Failures:  func(string) int { return 0 },
	}
	pool := candidates("a", "b")

	strategies := map[string]Strategy{
		"round_robin": NewRoundRobin(),
		"weighted":    NewWeighted(rand.New(rand.NewSource(1))),
		"random":      NewRandom(rand.New(rand.NewSource(1))),
	}
	for name, strategy := range strategies {
		if _, err := strategy.Select(pool, view, ""); err != types.ErrNoneAvailable {
			t.Errorf("%s: err = %v, want ErrNoneAvailable", name, err)
		}
	}
}

func TestSelectEmptyPool(t *testing.T) {
	rr := NewRoundRobin()
	if _, err := rr.Select(nil, allAvailable(), ""); err != types.ErrNoneAvailable {
		t.Errorf("err = %v, want ErrNoneAvailable", err)
	}
}

func TestWeightedFavorsHeavierCandidates(t *testing.T) {
	w := NewWeighted(rand.New(rand.NewSource(42)))
	pool := []Candidate{
		{ID: "heavy", Weight: 0.9},
		{ID: "light", Weight: 0.1},
	}

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		id, err := w.Select(pool, allAvailable(), "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[id]++
	}
	if counts["heavy"] <= counts["light"] {
		t.Errorf("heavy=%d light=%d, expected the heavier candidate to dominate", counts["heavy"], counts["light"])
	}
}

func TestWeightedPenalizesFailures(t *testing.T) {
	w := NewWeighted(rand.New(rand.NewSource(42)))
	pool := candidates("flaky", "steady")
	view := View{
		Available: func(string) bool { return true },
		Failures: func(id string) int {
			if id == "flaky" {
				return 9
			}
			return 0
		},
	}

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		id, err := w.Select(pool, view, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[id]++
	}
	if counts["steady"] <= counts["flaky"] {
		t.Errorf("steady=%d flaky=%d, expected failures to reduce selection share", counts["steady"], counts["flaky"])
	}
}

func TestStickyReusesBinding(t *testing.T) {
	bindings := NewBindings(persist.NewMemoryAdapter(), "test", types.KindProxy, time.Minute)
	sticky := NewSticky(bindings, NewRoundRobin())
	pool := candidates("a", "b", "c")

	first, err := sticky.Select(pool, allAvailable(), "session-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for i := 0; i < 5; i++ {
		id, err := sticky.Select(pool, allAvailable(), "session-1")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if id != first {
			t.Fatalf("sticky pick changed from %s to %s while bound candidate stayed healthy", first, id)
		}
	}
}

func TestStickyRebindsWhenBoundUnavailable(t *testing.T) {
	bindings := NewBindings(persist.NewMemoryAdapter(), "test", types.KindProxy, time.Minute)
	sticky := NewSticky(bindings, NewRoundRobin())
	pool := candidates("a", "b", "c")

	first, err := sticky.Select(pool, allAvailable(), "session-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	view := View{
		Available: func(id string) bool { return id != first },
		Failures:  func(string) int { return 0 },
	}
	second, err := sticky.Select(pool, view, "session-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if second == first {
		t.Fatal("sticky returned the unavailable bound candidate")
	}

	// The new binding persists once the original candidate recovers.
	third, err := sticky.Select(pool, allAvailable(), "session-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if third != second {
		t.Errorf("pick after rebind = %s, want %s", third, second)
	}
}

func TestStickySessionsAreIndependent(t *testing.T) {
	bindings := NewBindings(persist.NewMemoryAdapter(), "test", types.KindProxy, time.Minute)
	sticky := NewSticky(bindings, NewRoundRobin())
	pool := candidates("a", "b")

	first, _ := sticky.Select(pool, allAvailable(), "session-1")
	second, _ := sticky.Select(pool, allAvailable(), "session-2")
	if first == second {
		t.Errorf("distinct sessions bound to the same candidate %s under round-robin delegate", first)
	}
}

func TestStickyBindingExpires(t *testing.T) {
	bindings := NewBindings(persist.NewMemoryAdapter(), "test", types.KindProxy, 30*time.Millisecond)
	sticky := NewSticky(bindings, NewRoundRobin())
	pool := candidates("a", "b")

	first, _ := sticky.Select(pool, allAvailable(), "session-1")
	time.Sleep(60 * time.Millisecond)

	// Binding gone: the delegate's cursor has moved on.
	second, _ := sticky.Select(pool, allAvailable(), "session-1")
	if second == first {
		t.Errorf("expired binding still honored: got %s twice", first)
	}
}

func TestNewStrategyNames(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted", "random", "sticky"} {
		if _, err := New(name, 1, nil); err != nil {
			t.Errorf("New(%s): %v", name, err)
		}
	}
	if _, err := New("lru", 1, nil); err == nil {
		t.Error("expected error for unknown strategy name")
	}
}
