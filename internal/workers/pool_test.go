package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunExecutesEveryTask(t *testing.T) {
	p := NewPool(zap.NewNop(), "test", 4)

	var count atomic.Int64
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			count.Add(1)
			return nil
		}
	}

	errs := p.Run(context.Background(), tasks)
	require.Len(t, errs, 20)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(20), count.Load())
}

func TestRunAlignsErrorsWithTasks(t *testing.T) {
	p := NewPool(zap.NewNop(), "test", 2)

	boom := errors.New("boom")
	errs := p.Run(context.Background(), []Task{
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { return nil },
	})

	assert.NoError(t, errs[0])
	assert.Equal(t, boom, errs[1])
	assert.NoError(t, errs[2])
}

func TestRunRecoversPanics(t *testing.T) {
	p := NewPool(zap.NewNop(), "test", 1)

	errs := p.Run(context.Background(), []Task{
		func(context.Context) error { panic("kaboom") },
	})

	require.Error(t, errs[0])
	assert.Contains(t, errs[0].Error(), "kaboom")
}

func TestRunWithCancelledContext(t *testing.T) {
	p := NewPool(zap.NewNop(), "test", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errs := p.Run(ctx, []Task{
		func(ctx context.Context) error { return ctx.Err() },
	})
	assert.Error(t, errs[0])
}

func TestRunEmptyBatch(t *testing.T) {
	p := NewPool(zap.NewNop(), "test", 2)
	assert.Empty(t, p.Run(context.Background(), nil))
}
