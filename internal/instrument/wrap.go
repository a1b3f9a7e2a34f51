package instrument

import (
	"context"
	"fmt"
)

// Wrap returns fn instrumented with a span per call, keeping the calling
// contract identical. The span exits with fn's result, or drops with fn's
// error. A panic inside fn drops the span and then resumes the panic.
func Wrap[I, O any](d *Dispatcher, name string, fn func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, in I) (O, error) {
		return WithSpan(ctx, d, name, func(ctx context.Context) (O, error) {
			return fn(ctx, in)
		})
	}
}

// WithSpan runs fn inside a span named name, passing fn's returns through
// untouched. Callees that receive the inner context see this span as their
// parent.
func WithSpan[T any](ctx context.Context, d *Dispatcher, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := d.StartSpan(ctx, name)
	defer func() {
		if p := recover(); p != nil {
			span.end(nil, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	out, err := fn(ctx)
	if err != nil {
		span.end(nil, err)
	} else {
		span.end(out, nil)
	}
	return out, err
}
