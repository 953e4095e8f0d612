package game

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Типовые сроки жизни кэша
const (
	ShortTTL  = 15 * time.Second // горячие списки: инбокс, лента, шапка
	ActiveTTL = 5 * time.Minute  // нетерминальные записи бимодального кэша
)

// FetchFunc загружает запись из игрового API
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// CacheOptions - политика кэша
type CacheOptions[T any] struct {
	TTL time.Duration // срок жизни нетерминальной записи

	// Terminal, если задан, помечает запись как неизменяемую: такая запись
	// больше никогда не перезапрашивается
	Terminal func(T) bool
}

type cacheEntry[T any] struct {
	payload   T
	fetchedAt time.Time
	terminal  bool
}

type inflightCall[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Cache дедуплицирует конкурентные чтения одной записи игрового API.
// Все вызовы Get в пределах TTL получают один и тот же payload; по истечении
// TTL ровно один вызов делает refetch, остальные ждут его результат.
type Cache[T any] struct {
	fetch  FetchFunc[T]
	opts   CacheOptions[T]
	logger *slog.Logger
	now    func() time.Time // подменяется в тестах

	mu       sync.Mutex
	entries  map[string]*cacheEntry[T]
	inflight map[string]*inflightCall[T]
}

// NewCache создает кэш с заданной политикой
func NewCache[T any](fetch FetchFunc[T], opts CacheOptions[T], logger *slog.Logger) *Cache[T] {
	return &Cache[T]{
		fetch:    fetch,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]*cacheEntry[T]),
		inflight: make(map[string]*inflightCall[T]),
	}
}

// Get возвращает запись, перезапрашивая её не чаще, чем позволяет политика.
// При ошибке загрузки отдаёт устаревшее значение, если оно есть (stale-if-error).
func (c *Cache[T]) Get(ctx context.Context, key string) (T, error) {
	c.mu.Lock()

	if e, ok := c.entries[key]; ok && (e.terminal || c.now().Sub(e.fetchedAt) <= c.opts.TTL) {
		val := e.payload
		c.mu.Unlock()
		return val, nil
	}

	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.val, call.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	call := &inflightCall[T]{done: make(chan struct{})}
	c.inflight[key] = call
	stale := c.entries[key]
	c.mu.Unlock()

	val, err := c.fetch(ctx, key)

	c.mu.Lock()
	delete(c.inflight, key)
	switch {
	case err == nil:
		c.entries[key] = &cacheEntry[T]{
			payload:   val,
			fetchedAt: c.now(),
			terminal:  c.opts.Terminal != nil && c.opts.Terminal(val),
		}
		call.val = val
	case stale != nil:
		c.logger.Warn("⚠️ cache: fetch failed, serving stale payload",
			slog.String("key", key),
			slog.Duration("age", c.now().Sub(stale.fetchedAt)),
			slog.Any("error", err))
		call.val = stale.payload
		err = nil
	}
	call.err = err
	c.mu.Unlock()
	close(call.done)

	return call.val, call.err
}

// Put кладёт свежее значение напрямую, минуя fetch (после успешной мутации)
func (c *Cache[T]) Put(key string, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry[T]{
		payload:   val,
		fetchedAt: c.now(),
		terminal:  c.opts.Terminal != nil && c.opts.Terminal(val),
	}
}

// Peek возвращает закэшированное значение без refetch, даже устаревшее
func (c *Cache[T]) Peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.payload, true
	}

	var zero T
	return zero, false
}

// Invalidate сбрасывает запись; терминальные записи не сбрасываются
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.terminal {
		delete(c.entries, key)
	}
}
