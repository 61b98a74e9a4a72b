package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitCompletesSuccessfully(t *testing.T) {
	s := New(context.Background(), nil)
	done := make(chan struct{})
	s.Submit("job-1", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	require.Eventually(t, func() bool {
		return s.GetTaskStatus("job-1") == StatusCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitRecordsFailure(t *testing.T) {
	s := New(context.Background(), nil)
	s.Submit("job-err", func(ctx context.Context) error {
		return errors.New("boom")
	})

	require.Eventually(t, func() bool {
		return s.GetTaskStatus("job-err") == StatusFailed
	}, time.Second, 5*time.Millisecond)

	msg, ok := s.TaskError("job-err")
	assert.True(t, ok)
	assert.Equal(t, "boom", msg)
}

func TestGetTaskStatusUnknownIsPending(t *testing.T) {
	s := New(context.Background(), nil)
	assert.Equal(t, StatusPending, s.GetTaskStatus("nope"))
}

func TestCancelStopsRunningTask(t *testing.T) {
	s := New(context.Background(), nil)
	started := make(chan struct{})
	s.Submit("job-cancel", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	s.Cancel("job-cancel")
	assert.Equal(t, StatusCancelled, s.GetTaskStatus("job-cancel"))
}

func TestCancelUnknownTaskIsNoop(t *testing.T) {
	s := New(context.Background(), nil)
	s.Cancel("does-not-exist")
}

func TestCleanupFinishedTasksRemovesTerminalOnly(t *testing.T) {
	s := New(context.Background(), nil)
	blockCh := make(chan struct{})
	s.Submit("done-task", func(ctx context.Context) error { return nil })
	s.Submit("running-task", func(ctx context.Context) error {
		<-blockCh
		return nil
	})

	require.Eventually(t, func() bool {
		return s.GetTaskStatus("done-task") == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	removed := s.CleanupFinishedTasks()
	assert.Equal(t, 1, removed)
	assert.Equal(t, StatusPending, s.GetTaskStatus("done-task"))
	assert.Equal(t, StatusRunning, s.GetTaskStatus("running-task"))
	close(blockCh)
}

func TestShutdownCancelsAllRemainingTasks(t *testing.T) {
	s := New(context.Background(), nil)
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		taskID := "long-task-" + string(rune('a'+i))
		s.Submit(taskID, func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
	}
	<-started
	<-started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Shutdown(shutdownCtx)
}

func TestPanicInWorkIsCapturedAsFailure(t *testing.T) {
	s := New(context.Background(), nil)
	s.Submit("panicky", func(ctx context.Context) error {
		panic("kaboom")
	})

	require.Eventually(t, func() bool {
		return s.GetTaskStatus("panicky") == StatusFailed
	}, time.Second, 5*time.Millisecond)
}
