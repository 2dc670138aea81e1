package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// GuardedStore wraps a VectorStore with retry and a circuit breaker.
// Only connection failures are retried and trip the breaker; once open,
// calls fail fast with ErrCircuitOpen until the reset timeout passes.
type GuardedStore struct {
	inner   VectorStore
	breaker *nxerrors.CircuitBreaker
	retry   nxerrors.RetryConfig
	logger  *slog.Logger
}

// GuardOption configures a GuardedStore.
type GuardOption func(*GuardedStore)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *nxerrors.CircuitBreaker) GuardOption {
	return func(g *GuardedStore) { g.breaker = cb }
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg nxerrors.RetryConfig) GuardOption {
	return func(g *GuardedStore) { g.retry = cfg }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *GuardedStore) { g.logger = l }
}

// NewGuardedStore wraps inner.
func NewGuardedStore(inner VectorStore, opts ...GuardOption) *GuardedStore {
	g := &GuardedStore{
		inner: inner,
		breaker: nxerrors.NewCircuitBreaker("vector_store",
			nxerrors.WithMaxFailures(5),
			nxerrors.WithResetTimeout(30*time.Second)),
		retry:  nxerrors.DefaultRetryConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.retry.ShouldRetry = isConnectionError
	return g
}

// Breaker exposes the circuit breaker for health reporting.
func (g *GuardedStore) Breaker() *nxerrors.CircuitBreaker {
	return g.breaker
}

func isConnectionError(err error) bool {
	return nxerrors.GetCode(err) == nxerrors.ErrCodeStoreConnection
}

// classify makes sure every failure carries a store code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := nxerrors.As(err); ok {
		return err
	}
	return nxerrors.New(nxerrors.ErrCodeStoreOperation, op+" failed", err)
}

func guard[T any](ctx context.Context, g *GuardedStore, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	return nxerrors.RetryWithResult(ctx, g.retry, func() (T, error) {
		attempt++
		result, err := nxerrors.CircuitExecute(g.breaker, func() (T, error) {
			r, err := fn()
			return r, classify(op, err)
		}, isConnectionError)
		if err != nil && isConnectionError(err) {
			g.logger.Warn("store_call_failed",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("breaker", g.breaker.State().String()),
				slog.String("error", err.Error()))
		}
		return result, err
	})
}

// CollectionExists implements VectorStore.
func (g *GuardedStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return guard(ctx, g, "collection_exists", func() (bool, error) {
		return g.inner.CollectionExists(ctx, name)
	})
}

// CreateCollection implements VectorStore.
func (g *GuardedStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	_, err := guard(ctx, g, "create_collection", func() (struct{}, error) {
		return struct{}{}, g.inner.CreateCollection(ctx, spec)
	})
	return err
}

// Upsert implements VectorStore.
func (g *GuardedStore) Upsert(ctx context.Context, collection string, points []Point) error {
	_, err := guard(ctx, g, "upsert", func() (struct{}, error) {
		return struct{}{}, g.inner.Upsert(ctx, collection, points)
	})
	return err
}

// Search implements VectorStore.
func (g *GuardedStore) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	return guard(ctx, g, "search", func() ([]ScoredPoint, error) {
		return g.inner.Search(ctx, collection, req)
	})
}

// Delete implements VectorStore.
func (g *GuardedStore) Delete(ctx context.Context, collection string, filter Filter) error {
	_, err := guard(ctx, g, "delete", func() (struct{}, error) {
		return struct{}{}, g.inner.Delete(ctx, collection, filter)
	})
	return err
}

// DeleteIDs implements VectorStore.
func (g *GuardedStore) DeleteIDs(ctx context.Context, collection string, ids []uint64) error {
	_, err := guard(ctx, g, "delete_ids", func() (struct{}, error) {
		return struct{}{}, g.inner.DeleteIDs(ctx, collection, ids)
	})
	return err
}

// Count implements VectorStore.
func (g *GuardedStore) Count(ctx context.Context, collection string) (uint64, error) {
	return guard(ctx, g, "count", func() (uint64, error) {
		return g.inner.Count(ctx, collection)
	})
}

// Batch runs fn inside a batch of the wrapped store, or directly when the
// wrapped store does not batch.
func (g *GuardedStore) Batch(fn func() error) error {
	if b, ok := g.inner.(Batcher); ok {
		return b.Batch(fn)
	}
	return fn()
}

// Close closes the wrapped store.
func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

var (
	_ VectorStore = (*GuardedStore)(nil)
	_ Batcher     = (*GuardedStore)(nil)
)
