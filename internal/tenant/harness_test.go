package tenant

import (
	"context"
	"sync"
	"testing"

	"phonesim-core/internal/events"
	"phonesim-core/internal/mapping"
	"phonesim-core/internal/state"
	"phonesim-core/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	mr       *miniredis.Miniredis
	store    *state.Store
	p        *state.Persistence
	list     *List
	docs     *store.RedisDocumentStore
	cache    *store.CachedDocumentStore
	table    *mapping.Table
	switcher *Switcher
	remover  *Remover
	pub      *recordingPublisher
}

// newHarness 以 miniredis 为后端组装完整的切换链路；fetcher 为 nil 时使用 DocumentFetcher
func newHarness(t *testing.T, fetcher DataFetcher) *harness {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	p := state.NewPersistence(store.NewRedisKV(client), "phonesim:", logger)
	st := state.NewStore()
	list := NewList(st, p, logger)
	docs := store.NewRedisDocumentStore(client, "phonesim:doc:")
	cache := store.NewCachedDocumentStore(docs, logger)
	if fetcher == nil {
		fetcher = NewDocumentFetcher(cache, p, logger)
	}
	pub := &recordingPublisher{}
	table := mapping.NewTable(p, logger)
	sw := NewSwitcher(st, p, list, cache, fetcher, pub, logger)

	return &harness{
		mr:       mr,
		store:    st,
		p:        p,
		list:     list,
		docs:     docs,
		cache:    cache,
		table:    table,
		switcher: sw,
		remover:  NewRemover(list, p, table, sw, pub, logger),
		pub:      pub,
	}
}

// gatedFetcher 对指定角色阻塞，直到 gate 关闭
type gatedFetcher struct {
	gate    map[string]chan struct{}
	entered chan string
}

func (g *gatedFetcher) FetchAll(_ context.Context, tenant string, _ *state.Store) error {
	if ch, ok := g.gate[tenant]; ok {
		g.entered <- tenant
		<-ch
	}
	return nil
}

func (s *Switcher) pendingName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ""
	}
	return s.pending.name
}
