package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsResultsInSubmissionOrder(t *testing.T) {
	var work []Job[int]
	for i := range 20 {
		work = append(work, func(context.Context) (int, error) {
			// Vary completion order.
			time.Sleep(time.Duration((i*7)%5) * time.Millisecond)
			return i, nil
		})
	}

	results, err := Run(context.Background(), work, WithWorkers(5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(work) {
		t.Fatalf("got %d results, want %d", len(results), len(work))
	}
	for i, got := range results {
		if got != i {
			t.Errorf("results[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestRunNeverExceedsWorkerCap(t *testing.T) {
	const (
		workers = 3
		n       = 24
	)
	var (
		running atomic.Int32
		peak    atomic.Int32
	)

	var work []Job[struct{}]
	for range n {
		work = append(work, func(context.Context) (struct{}, error) {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		})
	}

	if _, err := Run(context.Background(), work, WithWorkers(workers)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got > workers {
		t.Errorf("observed %d jobs running concurrently, cap is %d", got, workers)
	}
}

func TestRunDefaultWorkerCap(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32

	var work []Job[int]
	for i := range 8 {
		work = append(work, func(context.Context) (int, error) {
			started.Add(1)
			<-release
			return i, nil
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := Run(context.Background(), work); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// With the default cap, exactly DefaultWorkers jobs may start while the
	// rest wait for permits.
	deadline := time.After(time.Second)
	for started.Load() < DefaultWorkers {
		select {
		case <-deadline:
			t.Fatalf("only %d jobs started, want %d", started.Load(), DefaultWorkers)
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(10 * time.Millisecond)
	if got := started.Load(); got != DefaultWorkers {
		t.Errorf("%d jobs started while blocked, want exactly %d", got, DefaultWorkers)
	}

	close(release)
	<-done
}

func TestRunOrderSurvivesOutOfOrderCompletion(t *testing.T) {
	// Job 1 is fastest and job 0 slowest; with two workers job 1 finishes
	// first, yet results stay in submission order.
	var (
		mu          sync.Mutex
		completions []string
	)
	sleeper := func(name string, d time.Duration) Job[string] {
		return func(context.Context) (string, error) {
			time.Sleep(d)
			mu.Lock()
			completions = append(completions, name)
			mu.Unlock()
			return name, nil
		}
	}

	work := []Job[string]{
		sleeper("r0", 80*time.Millisecond),
		sleeper("r1", 20*time.Millisecond),
		sleeper("r2", 40*time.Millisecond),
	}

	results, err := Run(context.Background(), work, WithWorkers(2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"r0", "r1", "r2"}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want[i])
		}
	}
	if completions[0] != "r1" {
		t.Errorf("first completion = %q, want r1 (fastest job)", completions[0])
	}
}

func TestRunJoinsAllFailures(t *testing.T) {
	errFirst := errors.New("first failure")
	errSecond := errors.New("second failure")
	var completed atomic.Int32

	work := []Job[int]{
		func(context.Context) (int, error) { completed.Add(1); return 1, nil },
		func(context.Context) (int, error) { completed.Add(1); return 0, errFirst },
		func(context.Context) (int, error) {
			time.Sleep(20 * time.Millisecond)
			completed.Add(1)
			return 3, nil
		},
		func(context.Context) (int, error) { completed.Add(1); return 0, errSecond },
	}

	results, err := Run(context.Background(), work, WithWorkers(2))
	if err == nil {
		t.Fatal("Run returned nil error despite failing jobs")
	}
	if results != nil {
		t.Errorf("got partial results %v, want nil", results)
	}
	if !errors.Is(err, errFirst) || !errors.Is(err, errSecond) {
		t.Errorf("aggregate %v does not contain both job errors", err)
	}
	if got := completed.Load(); got != 4 {
		t.Errorf("%d jobs completed, want all 4 (failure must not cancel admitted siblings)", got)
	}
}

func TestRunEmptyJobList(t *testing.T) {
	start := time.Now()
	results, err := Run(context.Background(), []Job[int]{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("empty run took %v, want immediate return", elapsed)
	}
}

func TestRunRejectsInvalidWorkerCount(t *testing.T) {
	var ran atomic.Bool
	work := []Job[int]{
		func(context.Context) (int, error) { ran.Store(true); return 0, nil },
	}

	for _, workers := range []int{0, -1} {
		results, err := Run(context.Background(), work, WithWorkers(workers))
		if !errors.Is(err, ErrInvalidWorkers) {
			t.Errorf("workers=%d: err = %v, want ErrInvalidWorkers", workers, err)
		}
		if results != nil {
			t.Errorf("workers=%d: got results %v, want nil", workers, results)
		}
	}
	if ran.Load() {
		t.Error("a job ran despite the invalid worker count")
	}
}

func TestRunContextCancelAbortsWaiters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	// One permit: whichever job wins it blocks on release, the others wait
	// in permit acquisition until the context is cancelled.
	var work []Job[int]
	for i := range 3 {
		work = append(work, func(context.Context) (int, error) {
			<-release
			return i, nil
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, work, WithWorkers(1))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	close(release)

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled for jobs still waiting on permits", err)
	}
}

func TestRunProgressIsCumulative(t *testing.T) {
	const n = 9
	var (
		mu    sync.Mutex
		calls [][2]int
	)

	var work []Job[int]
	for i := range n {
		work = append(work, func(context.Context) (int, error) { return i, nil })
	}

	_, err := Run(context.Background(), work, WithWorkers(3), WithProgress(func(completed, total int) {
		mu.Lock()
		calls = append(calls, [2]int{completed, total})
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(calls) != n {
		t.Fatalf("progress fired %d times, want %d", len(calls), n)
	}
	for i, call := range calls {
		if call[0] != i+1 || call[1] != n {
			t.Errorf("call %d = (%d, %d), want (%d, %d)", i, call[0], call[1], i+1, n)
		}
	}
}

func TestBatchGatherMatchesUnbatchedResults(t *testing.T) {
	makeWork := func(n int) []Job[int] {
		var work []Job[int]
		for i := range n {
			work = append(work, func(context.Context) (int, error) {
				time.Sleep(time.Duration(i%3) * time.Millisecond)
				return i * 2, nil
			})
		}
		return work
	}

	tests := []struct {
		name  string
		n     int
		batch int
	}{
		{"batch smaller than input", 23, 5},
		{"batch of one", 7, 1},
		{"batch larger than input", 4, 100},
		{"empty input", 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BatchGather(context.Background(), makeWork(tt.n), WithBatchSize(tt.batch))
			if err != nil {
				t.Fatalf("BatchGather: %v", err)
			}
			if len(got) != tt.n {
				t.Fatalf("got %d results, want %d", len(got), tt.n)
			}
			for i, v := range got {
				if v != i*2 {
					t.Errorf("results[%d] = %d, want %d", i, v, i*2)
				}
			}
		})
	}
}

func TestBatchGatherBarrierBetweenChunks(t *testing.T) {
	const (
		n     = 6
		batch = 2
	)
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(kind string, i int) {
		mu.Lock()
		events = append(events, fmt.Sprintf("%s:%d", kind, i))
		mu.Unlock()
	}

	var work []Job[int]
	for i := range n {
		work = append(work, func(context.Context) (int, error) {
			record("start", i)
			time.Sleep(time.Duration((i*13)%17) * time.Millisecond)
			record("end", i)
			return i, nil
		})
	}

	if _, err := BatchGather(context.Background(), work, WithBatchSize(batch)); err != nil {
		t.Fatalf("BatchGather: %v", err)
	}

	position := make(map[string]int, len(events))
	for i, ev := range events {
		position[ev] = i
	}
	// Every job of chunk k must end before any job of chunk k+1 starts.
	for i := range n {
		for j := range n {
			if i/batch < j/batch && position[fmt.Sprintf("end:%d", i)] > position[fmt.Sprintf("start:%d", j)] {
				t.Errorf("job %d (chunk %d) still running when job %d (chunk %d) started", i, i/batch, j, j/batch)
			}
		}
	}
}

func TestBatchGatherFailureStopsLaterChunks(t *testing.T) {
	errBoom := errors.New("boom")
	var (
		siblingRan    atomic.Bool
		laterChunkRan atomic.Bool
	)

	work := []Job[int]{
		func(context.Context) (int, error) { return 0, nil },
		func(context.Context) (int, error) { return 1, nil },
		func(context.Context) (int, error) { return 0, errBoom },
		func(context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			siblingRan.Store(true)
			return 3, nil
		},
		func(context.Context) (int, error) { laterChunkRan.Store(true); return 4, nil },
		func(context.Context) (int, error) { laterChunkRan.Store(true); return 5, nil },
	}

	results, err := BatchGather(context.Background(), work, WithBatchSize(2))
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
	if results != nil {
		t.Errorf("got results %v, want nil", results)
	}
	if !siblingRan.Load() {
		t.Error("sibling in the failing chunk was cancelled; admitted jobs must settle")
	}
	if laterChunkRan.Load() {
		t.Error("a job from a later chunk ran after an earlier chunk failed")
	}
}

func TestBatchGatherRejectsInvalidBatchSize(t *testing.T) {
	work := []Job[int]{
		func(context.Context) (int, error) { return 0, nil },
	}

	_, err := BatchGather(context.Background(), work, WithBatchSize(0))
	if !errors.Is(err, ErrInvalidBatchSize) {
		t.Errorf("err = %v, want ErrInvalidBatchSize", err)
	}
}

func TestBatchGatherProgressPerChunk(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][2]int
	)

	var work []Job[int]
	for i := range 5 {
		work = append(work, func(context.Context) (int, error) { return i, nil })
	}

	_, err := BatchGather(context.Background(), work, WithBatchSize(2), WithProgress(func(completed, total int) {
		mu.Lock()
		calls = append(calls, [2]int{completed, total})
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("BatchGather: %v", err)
	}

	want := [][2]int{{2, 5}, {4, 5}, {5, 5}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestErrorMessagesNameThePackage(t *testing.T) {
	_, err := Run(context.Background(), []Job[int]{}, WithWorkers(-2))
	if err == nil || !strings.Contains(err.Error(), "jobs:") {
		t.Errorf("err = %v, want package-prefixed message", err)
	}
	if !strings.Contains(err.Error(), "-2") {
		t.Errorf("err = %v, want offending value in message", err)
	}
}
