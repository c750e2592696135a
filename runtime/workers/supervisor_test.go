package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingWorker struct {
	runs      atomic.Int32
	panicsFor int32
	done      chan struct{}
}

func (w *countingWorker) Run(ctx context.Context) error {
	run := w.runs.Add(1)
	if run <= w.panicsFor {
		panic("boom")
	}
	close(w.done)
	return nil
}

func Test_Supervisor_Restarts_A_Panicking_Worker(t *testing.T) {
	req := require.New(t)
	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	worker := &countingWorker{panicsFor: 2, done: make(chan struct{})}
	sup.Add(worker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sup.Run(ctx)

	select {
	case <-worker.done:
	case <-ctx.Done():
		t.Fatal("worker never recovered")
	}
	req.Equal(int32(3), worker.runs.Load())
}

type blockingWorker struct {
	started chan struct{}
}

func (w *blockingWorker) Run(ctx context.Context) error {
	close(w.started)
	<-ctx.Done()
	return nil
}

func Test_Supervisor_Stop_Cancels_Workers(t *testing.T) {
	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)
	worker := &blockingWorker{started: make(chan struct{})}
	sup.Add(worker)

	finished := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(finished)
	}()

	<-worker.started
	sup.Stop()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not drain workers after Stop")
	}
}
