package queue

import "context"

// Future is the pending result of a non-blocking call.
type Future[T any] struct {
	result T
	err    error
	done   chan struct{}
}

// Await blocks until the call completes.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.result, f.err
}

// AwaitContext blocks until the call completes or ctx is done, whichever comes first.
// The underlying call keeps running when ctx expires.
func (f *Future[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Go runs fn in its own goroutine and returns its future.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}
		f.result, f.err = fn(ctx)
	}()

	return f
}

// AsyncConnector exposes a Connector through non-blocking calls.
// Every call is a suspension point: it returns immediately with a Future.
type AsyncConnector struct {
	conn Connector
}

// NewAsyncConnector wraps conn. The query semantics are those of conn.
func NewAsyncConnector(conn Connector) *AsyncConnector {
	if conn == nil {
		conn = missingConnector{}
	}
	return &AsyncConnector{conn: conn}
}

// SyncConnector returns the blocking connector sharing this connector's resources.
func (a *AsyncConnector) SyncConnector() Connector {
	return a.conn
}

func (a *AsyncConnector) Open(ctx context.Context) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.conn.Open(ctx)
	})
}

func (a *AsyncConnector) Close(ctx context.Context) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.conn.Close(ctx)
	})
}

func (a *AsyncConnector) Execute(ctx context.Context, q Query, args ...any) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.conn.Execute(ctx, q, args...)
	})
}

func (a *AsyncConnector) QueryOne(ctx context.Context, q Query, args ...any) *Future[Row] {
	return Go(ctx, func(ctx context.Context) (Row, error) {
		return a.conn.QueryOne(ctx, q, args...)
	})
}

func (a *AsyncConnector) QueryAll(ctx context.Context, q Query, args ...any) *Future[[]Row] {
	return Go(ctx, func(ctx context.Context) ([]Row, error) {
		return a.conn.QueryAll(ctx, q, args...)
	})
}

// ListenNotify subscribes in the background; the future resolves when the subscription ends.
func (a *AsyncConnector) ListenNotify(ctx context.Context, channel string, handler NotifyHandler) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.conn.ListenNotify(ctx, channel, handler)
	})
}
