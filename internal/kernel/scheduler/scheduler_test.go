package scheduler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/ratelimit"
	"github.com/agentkernel/core/internal/kernel/scheduler"
)

func newTask() scheduler.Task {
	return scheduler.Task{ID: id.New(id.KindTask)}
}

func TestAdmitRespectsFIFOOrder(t *testing.T) {
	s := scheduler.New(scheduler.PolicyFIFO, 10)
	first, second := newTask(), newTask()
	s.Submit(first)
	s.Submit(second)

	admitted, _, ok := s.Admit(context.Background())
	require.True(t, ok)
	assert.Equal(t, first.ID, admitted.ID)
}

func TestAdmitRespectsPriorityOrderWithFIFOTiebreak(t *testing.T) {
	s := scheduler.New(scheduler.PolicyPriority, 10)
	low := scheduler.Task{ID: id.New(id.KindTask), Priority: 1}
	high := scheduler.Task{ID: id.New(id.KindTask), Priority: 5}
	s.Submit(low)
	s.Submit(high)

	admitted, _, ok := s.Admit(context.Background())
	require.True(t, ok)
	assert.Equal(t, high.ID, admitted.ID)
}

func TestAdmitNeverExceedsConcurrencyCeiling(t *testing.T) {
	s := scheduler.New(scheduler.PolicyFIFO, 1)
	s.Submit(newTask())
	s.Submit(newTask())

	_, _, ok := s.Admit(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, s.InFlight())

	_, _, ok = s.Admit(context.Background())
	assert.False(t, ok)

	s.Release()
	_, _, ok = s.Admit(context.Background())
	assert.True(t, ok)
}

func TestAdmitReturnsFalseOnEmptyQueue(t *testing.T) {
	s := scheduler.New(scheduler.PolicyFIFO, 10)
	_, _, ok := s.Admit(context.Background())
	assert.False(t, ok)
}

func TestAdvisorHookPermutationIsRecordedAndApplied(t *testing.T) {
	first, second := newTask(), newTask()
	var sawInput []scheduler.Task
	advisor := func(pending []scheduler.Task) []scheduler.Task {
		sawInput = pending
		// Reverse the pending order: second should admit first.
		return []scheduler.Task{pending[1], pending[0]}
	}

	s := scheduler.New(scheduler.PolicyFIFO, 10, scheduler.WithAdvisor(advisor))
	s.Submit(first)
	s.Submit(second)

	admitted, record, ok := s.Admit(context.Background())
	require.True(t, ok)
	assert.Equal(t, second.ID, admitted.ID)
	require.NotNil(t, record)
	assert.Len(t, sawInput, 2)
	assert.Equal(t, []id.Id{second.ID, first.ID}, record.Permutation)
}

func TestAdvisorHookPermutationRejectedWhenItDropsWork(t *testing.T) {
	first, second := newTask(), newTask()
	advisor := func(pending []scheduler.Task) []scheduler.Task {
		return []scheduler.Task{pending[0]} // drops one task — invalid
	}

	s := scheduler.New(scheduler.PolicyFIFO, 10, scheduler.WithAdvisor(advisor))
	s.Submit(first)
	s.Submit(second)

	admitted, record, ok := s.Admit(context.Background())
	require.True(t, ok)
	assert.Nil(t, record)
	assert.Equal(t, first.ID, admitted.ID) // falls back to FIFO order
}

func TestAdvisorHookPermutationRepairsStaleAndMissingEntries(t *testing.T) {
	first, second, third := newTask(), newTask(), newTask()
	stale := scheduler.Task{ID: id.New(id.KindTask)}
	advisor := func(pending []scheduler.Task) []scheduler.Task {
		// References third and first, a stale id no longer queued, and
		// omits second entirely.
		return []scheduler.Task{pending[2], stale, pending[0]}
	}

	s := scheduler.New(scheduler.PolicyFIFO, 10, scheduler.WithAdvisor(advisor))
	s.Submit(first)
	s.Submit(second)
	s.Submit(third)

	admitted, record, ok := s.Admit(context.Background())
	require.True(t, ok)
	require.NotNil(t, record)
	assert.Equal(t, third.ID, admitted.ID)
	// stale dropped as extraneous; second, omitted by the advisor, falls
	// back to its original FIFO position after the repaired entries.
	assert.Equal(t, []id.Id{third.ID, first.ID, second.ID}, record.Permutation)
}

func TestAdmitDeniedWithoutRateLimiterBudget(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, 1)
	require.True(t, limiter.Allow(1)) // drain the single token

	s := scheduler.New(scheduler.PolicyFIFO, 10, scheduler.WithRateLimiter(limiter))
	s.Submit(newTask())

	_, _, ok := s.Admit(context.Background())
	assert.False(t, ok)
}
