package cron

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingPurger struct {
	calls atomic.Int32
	ages  chan time.Duration
}

func (p *countingPurger) PurgeOlderThan(age time.Duration) int {
	p.calls.Add(1)
	select {
	case p.ages <- age:
	default:
	}
	return 2
}

func TestRetention_Run(t *testing.T) {
	p := &countingPurger{ages: make(chan time.Duration, 1)}
	r := NewRetention(zaptest.NewLogger(t), p, "@daily", 30*24*time.Hour)

	r.Run()
	require.Equal(t, int32(1), p.calls.Load())
	require.Equal(t, 30*24*time.Hour, <-p.ages)
	require.Equal(t, "retention", r.Name())
}

func TestRunner_SchedulesTasks(t *testing.T) {
	p := &countingPurger{ages: make(chan time.Duration, 1)}
	runner, err := NewRunner(zaptest.NewLogger(t), NewRetention(zaptest.NewLogger(t), p, "@every 1s", time.Hour))
	require.NoError(t, err)

	runner.Start()
	defer runner.Stop()

	select {
	case age := <-p.ages:
		require.Equal(t, time.Hour, age)
	case <-time.After(3 * time.Second):
		t.Fatal("retention task never ran")
	}
}

func TestRunner_BadSpec(t *testing.T) {
	_, err := NewRunner(zaptest.NewLogger(t), NewRetention(zaptest.NewLogger(t), &countingPurger{}, "not a spec", time.Hour))
	require.Error(t, err)
}
