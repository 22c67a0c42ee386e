package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sybethiesant/flexerr/internal/engine"
	"github.com/sybethiesant/flexerr/internal/errors"
	"github.com/sybethiesant/flexerr/internal/queue"
	"github.com/sybethiesant/flexerr/internal/store"
	apptest "github.com/sybethiesant/flexerr/internal/testing"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	db := apptest.TestDB(t)

	eng := engine.New(engine.Deps{
		Rules: store.NewRules(db),
		Queue: queue.NewStore(db),
	})
	processor := queue.NewProcessor(queue.NewStore(db), eng, nil, nil, 0)
	return New(Config{}, eng, processor, nil)
}

func TestRunCompletesWithEmptyState(t *testing.T) {
	s := newTestScheduler(t)

	result, err := s.Run(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	require.NotNil(t, result.Queue)
	assert.Equal(t, 0, result.Summary.RulesRun)
	assert.Equal(t, 0, result.Queue.Processed)
}

func TestRunDryRunSkipsQueueProcessing(t *testing.T) {
	s := newTestScheduler(t)

	result, err := s.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.Summary.DryRun)
	assert.Equal(t, 0, result.Queue.Processed)
}

func TestRunRejectsConcurrentPasses(t *testing.T) {
	s := newTestScheduler(t)

	require.True(t, s.Registry().TryBegin(PassKey))
	defer s.Registry().End(PassKey)

	_, err := s.Run(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestStartRejectsInvalidCronSpec(t *testing.T) {
	s := newTestScheduler(t)

	err := s.Start("not a cron spec")
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfig, errors.GetErrorCode(err))
}

func TestStartAndStop(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Start("@every 1h"))
	s.Stop()
}
