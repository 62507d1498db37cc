package cachehouse

import (
	"context"
	"sync"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/cachehouse/provider"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu      sync.Mutex
	m       map[string]memEntry
	clock   *fakeClock
	getErr  error
	setErr  error
	gets    int
	sets    int
	lastTTL time.Duration
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider {
	return &memProvider{m: make(map[string]memEntry), clock: newFakeClock()}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !p.clock.Now().Before(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets++
	p.lastTTL = ttl
	if p.setErr != nil {
		return false, p.setErr
	}
	var exp time.Time
	if ttl > 0 {
		exp = p.clock.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *memProvider) put(key string, raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = memEntry{v: raw}
}

type recordingHooks struct {
	mu        sync.Mutex
	hits      []string
	misses    []string
	stored    []string
	healed    []string
	readErrs  int
	writeErrs int
}

var _ Hooks = (*recordingHooks)(nil)

func (h *recordingHooks) Hit(k string) {
	h.mu.Lock()
	h.hits = append(h.hits, k)
	h.mu.Unlock()
}

func (h *recordingHooks) Miss(k string) {
	h.mu.Lock()
	h.misses = append(h.misses, k)
	h.mu.Unlock()
}

func (h *recordingHooks) Stored(k string, _ time.Duration) {
	h.mu.Lock()
	h.stored = append(h.stored, k)
	h.mu.Unlock()
}

func (h *recordingHooks) SelfHeal(_ string, reason string) {
	h.mu.Lock()
	h.healed = append(h.healed, reason)
	h.mu.Unlock()
}

func (h *recordingHooks) ReadError(string, error) {
	h.mu.Lock()
	h.readErrs++
	h.mu.Unlock()
}

func (h *recordingHooks) WriteError(string, error) {
	h.mu.Lock()
	h.writeErrs++
	h.mu.Unlock()
}

func (h *recordingHooks) snapshot() recordingHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recordingHooks{
		hits:      append([]string(nil), h.hits...),
		misses:    append([]string(nil), h.misses...),
		stored:    append([]string(nil), h.stored...),
		healed:    append([]string(nil), h.healed...),
		readErrs:  h.readErrs,
		writeErrs: h.writeErrs,
	}
}

// newTestBackend registers a backend over mp in a private registry.
func newTestBackend(t *testing.T, mp *memProvider, optsOpt func(*Options)) (Backend, *Registry) {
	t.Helper()
	reg := NewRegistry()
	opts := Options{Registry: reg}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	be, err := NewBackend(SingleNode, mp, opts)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	be.(*backend).now = mp.clock.Now
	return be, reg
}
