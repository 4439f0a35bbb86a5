package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

// Bindings persists sticky session-token bindings through the same adapter as
// the health records, so they survive process restarts and are visible to
// sibling workers. All operations are best-effort: losing a binding only
// costs stickiness, never correctness.
type Bindings struct {
	adapter   persist.Adapter
	namespace string
	kind      types.Kind
	ttl       time.Duration
}

func NewBindings(adapter persist.Adapter, namespace string, kind types.Kind, ttl time.Duration) *Bindings {
	return &Bindings{adapter: adapter, namespace: namespace, kind: kind, ttl: ttl}
}

func (b *Bindings) key(token string) string {
	return fmt.Sprintf("%s:sticky:%s:%s", b.namespace, b.kind, token)
}

func (b *Bindings) Get(token string) (string, bool) {
	value, ok, err := b.adapter.Get(context.Background(), b.key(token))
	if err != nil {
		log.Warnf("Sticky binding read failed for %s: %v", token, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	return string(value), true
}

func (b *Bindings) Bind(token, id string) {
	if err := b.adapter.Put(context.Background(), b.key(token), []byte(id), b.ttl); err != nil {
		log.Warnf("Sticky binding write failed for %s: %v", token, err)
	}
}

func (b *Bindings) Drop(token string) {
	if err := b.adapter.Delete(context.Background(), b.key(token)); err != nil {
		log.Warnf("Sticky binding delete failed for %s: %v", token, err)
	}
}
