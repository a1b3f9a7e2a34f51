package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func spanByName(t *testing.T, spans []Span, name string) Span {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span named %q in %v", name, spans)
	return Span{}
}

func TestSpanIDHasNamePrefix(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	_, _ = WithSpan(context.Background(), d, "retrieve", func(context.Context) (int, error) {
		return 0, nil
	})

	spans := rec.enteredSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if !strings.HasPrefix(spans[0].ID, "retrieve-") {
		t.Errorf("span id = %q, want prefix %q", spans[0].ID, "retrieve-")
	}
	if spans[0].ID == "retrieve-" {
		t.Error("span id has no random suffix")
	}
}

func TestSpanIDsUniquePerExecution(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	run := func() {
		_, _ = WithSpan(context.Background(), d, "retrieve", func(context.Context) (int, error) {
			return 0, nil
		})
	}
	run()
	run()

	spans := rec.enteredSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].ID == spans[1].ID {
		t.Errorf("two executions share span id %q", spans[0].ID)
	}
}

func TestNestedSpansLinkParents(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	reg.Root().AddSpanHandler(rec)
	d := reg.Dispatcher("engine")

	_, err := WithSpan(context.Background(), d, "a", func(ctx context.Context) (int, error) {
		return WithSpan(ctx, d, "b", func(ctx context.Context) (int, error) {
			return WithSpan(ctx, d, "c", func(ctx context.Context) (int, error) {
				return 42, nil
			})
		})
	})
	if err != nil {
		t.Fatalf("WithSpan: %v", err)
	}

	spans := rec.enteredSpans()
	a := spanByName(t, spans, "a")
	b := spanByName(t, spans, "b")
	c := spanByName(t, spans, "c")

	if a.ParentID != "" {
		t.Errorf("a.ParentID = %q, want top-level", a.ParentID)
	}
	if b.ParentID != a.ID {
		t.Errorf("b.ParentID = %q, want a's id %q", b.ParentID, a.ID)
	}
	if c.ParentID != b.ID {
		t.Errorf("c.ParentID = %q, want b's id %q", c.ParentID, b.ID)
	}
}

func TestActiveSpanRestoredAfterReturn(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	reg.Root().AddSpanHandler(rec)
	d := reg.Dispatcher("engine")

	_, err := WithSpan(context.Background(), d, "outer", func(ctx context.Context) (int, error) {
		if _, err := WithSpan(ctx, d, "first", func(context.Context) (int, error) {
			return 0, nil
		}); err != nil {
			return 0, err
		}
		// After first returns, the active span in ctx must be outer again.
		_, err := WithSpan(ctx, d, "second", func(context.Context) (int, error) {
			return 0, nil
		})
		return 0, err
	})
	if err != nil {
		t.Fatalf("WithSpan: %v", err)
	}

	spans := rec.enteredSpans()
	outer := spanByName(t, spans, "outer")
	second := spanByName(t, spans, "second")
	if second.ParentID != outer.ID {
		t.Errorf("second.ParentID = %q, want outer's id %q", second.ParentID, outer.ID)
	}
}

func TestActiveSpanRestoredAfterDrop(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	reg.Root().AddSpanHandler(rec)
	d := reg.Dispatcher("engine")

	_, err := WithSpan(context.Background(), d, "outer", func(ctx context.Context) (int, error) {
		_, _ = WithSpan(ctx, d, "failing", func(context.Context) (int, error) {
			return 0, errors.New("boom")
		})
		_, err := WithSpan(ctx, d, "after", func(context.Context) (int, error) {
			return 0, nil
		})
		return 0, err
	})
	if err != nil {
		t.Fatalf("WithSpan: %v", err)
	}

	spans := rec.enteredSpans()
	outer := spanByName(t, spans, "outer")
	after := spanByName(t, spans, "after")
	if after.ParentID != outer.ID {
		t.Errorf("after.ParentID = %q, want outer's id %q (active span not restored after drop)", after.ParentID, outer.ID)
	}
}

func TestConcurrentSpansIsolated(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	reg.Root().AddSpanHandler(rec)
	d := reg.Dispatcher("engine")

	const workers = 8
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outer := fmt.Sprintf("outer-%d", i)
			inner := fmt.Sprintf("inner-%d", i)
			_, _ = WithSpan(context.Background(), d, outer, func(ctx context.Context) (int, error) {
				return WithSpan(ctx, d, inner, func(context.Context) (int, error) {
					return 0, nil
				})
			})
		}(i)
	}
	wg.Wait()

	spans := rec.enteredSpans()
	if len(spans) != 2*workers {
		t.Fatalf("got %d spans, want %d", len(spans), 2*workers)
	}
	for i := range workers {
		outer := spanByName(t, spans, fmt.Sprintf("outer-%d", i))
		inner := spanByName(t, spans, fmt.Sprintf("inner-%d", i))
		if outer.ParentID != "" {
			t.Errorf("outer-%d has parent %q, want none", i, outer.ParentID)
		}
		if inner.ParentID != outer.ID {
			t.Errorf("inner-%d parent = %q, want its own goroutine's outer %q", i, inner.ParentID, outer.ID)
		}
	}
}

func TestWithSpanDeliversResultToExit(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	got, err := WithSpan(context.Background(), d, "work", func(context.Context) (string, error) {
		return "payload", nil
	})
	if err != nil || got != "payload" {
		t.Fatalf("WithSpan returned (%q, %v)", got, err)
	}
	if len(rec.results) != 1 {
		t.Fatalf("got %d exit results, want 1", len(rec.results))
	}
	if res, ok := rec.results[0].(string); !ok || res != "payload" {
		t.Errorf("exit result = %v, want %q", rec.results[0], "payload")
	}
}

func TestWrapKeepsCallingContract(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	double := Wrap(d, "double", func(_ context.Context, n int) (int, error) {
		if n < 0 {
			return 0, errors.New("negative")
		}
		return n * 2, nil
	})

	got, err := double(context.Background(), 21)
	if err != nil || got != 42 {
		t.Fatalf("double(21) = (%d, %v), want (42, nil)", got, err)
	}
	if _, err := double(context.Background(), -1); err == nil {
		t.Fatal("double(-1) did not return the wrapped error")
	}

	if len(rec.exited) != 1 || len(rec.dropped) != 1 {
		t.Errorf("exit/drop counts = %d/%d, want 1/1", len(rec.exited), len(rec.dropped))
	}
}

func TestWrapPanicDropsThenRepanics(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	wrapped := Wrap(d, "explode", func(context.Context, int) (int, error) {
		panic("kaboom")
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic did not propagate out of the wrapped operation")
			}
		}()
		_, _ = wrapped(context.Background(), 0)
	}()

	if len(rec.dropped) != 1 {
		t.Fatalf("got %d drops, want 1", len(rec.dropped))
	}
	if len(rec.errs) != 1 || !strings.Contains(rec.errs[0].Error(), "panic") {
		t.Errorf("drop error = %v, want panic description", rec.errs)
	}
}

func TestEndIdempotent(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	_, span := d.StartSpan(context.Background(), "manual")
	span.End(nil)
	span.End(nil)
	err := errors.New("late")
	span.End(&err)

	if len(rec.exited) != 1 {
		t.Errorf("got %d exits, want 1", len(rec.exited))
	}
	if len(rec.dropped) != 0 {
		t.Errorf("got %d drops after an exit, want 0", len(rec.dropped))
	}
}

func TestEndWithErrorDrops(t *testing.T) {
	reg := New()
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	run := func() (err error) {
		_, span := d.StartSpan(context.Background(), "manual")
		defer func() { span.End(&err) }()
		return errors.New("boom")
	}
	if err := run(); err == nil {
		t.Fatal("run returned nil")
	}

	if len(rec.dropped) != 1 || len(rec.exited) != 0 {
		t.Errorf("drop/exit = %d/%d, want 1/0", len(rec.dropped), len(rec.exited))
	}
}

func TestSpanDurationUsesClock(t *testing.T) {
	mock := clock.NewMock()
	reg := New(WithClock(mock))
	rec := newRecorder("rec")
	d := reg.Dispatcher("engine")
	d.AddSpanHandler(rec)

	_, err := WithSpan(context.Background(), d, "timed", func(context.Context) (int, error) {
		mock.Add(250 * time.Millisecond)
		return 0, nil
	})
	if err != nil {
		t.Fatalf("WithSpan: %v", err)
	}

	if len(rec.exited) != 1 {
		t.Fatalf("got %d exits, want 1", len(rec.exited))
	}
	if got := rec.exited[0].Duration; got != 250*time.Millisecond {
		t.Errorf("span duration = %v, want 250ms", got)
	}
}

func TestNewEventBaseCapturesActiveSpan(t *testing.T) {
	reg := New()
	d := reg.Dispatcher("engine")

	outside := NewEventBase(context.Background())
	if outside.SpanID != "" {
		t.Errorf("event outside any span has span id %q", outside.SpanID)
	}
	if outside.ID == "" || outside.Timestamp.IsZero() {
		t.Error("event base missing id or timestamp")
	}

	ctx, span := d.StartSpan(context.Background(), "work")
	inside := NewEventBase(ctx)
	if inside.SpanID != span.Span().ID {
		t.Errorf("event span id = %q, want active span %q", inside.SpanID, span.Span().ID)
	}
	span.End(nil)
}
