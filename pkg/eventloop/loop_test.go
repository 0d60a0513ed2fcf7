package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func startLoop(t *testing.T) (*Loop, fakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	loop := New(clock, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, clock
}

func drain(t *testing.T, loop *Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, loop.Do(ctx, func() {}))
}

func TestLoop_PostRunsInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	drain(t, loop)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_PostFromLoop(t *testing.T) {
	loop, _ := startLoop(t)

	var got []string
	loop.Post(func() {
		got = append(got, "outer")
		loop.Post(func() { got = append(got, "inner") })
	})
	drain(t, loop)
	drain(t, loop)
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestLoop_AfterFuncWaitsForClock(t *testing.T) {
	loop, clock := startLoop(t)

	fired := 0
	loop.AfterFunc(2*time.Second, func() { fired++ })

	drain(t, loop)
	assert.Equal(t, 0, fired)

	clock.Advance(time.Second)
	drain(t, loop)
	assert.Equal(t, 0, fired)

	clock.Advance(time.Second)
	drain(t, loop)
	assert.Equal(t, 1, fired)

	clock.Advance(time.Hour)
	drain(t, loop)
	assert.Equal(t, 1, fired)
}

func TestLoop_TimersFireInDeadlineOrder(t *testing.T) {
	loop, clock := startLoop(t)

	var got []string
	loop.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	loop.AfterFunc(time.Second, func() { got = append(got, "a") })
	loop.AfterFunc(time.Second, func() { got = append(got, "b") })

	clock.Advance(5 * time.Second)
	drain(t, loop)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestLoop_TimerScheduledFromTimer(t *testing.T) {
	loop, clock := startLoop(t)

	var got []string
	loop.AfterFunc(time.Second, func() {
		got = append(got, "first")
		loop.AfterFunc(time.Second, func() { got = append(got, "second") })
	})

	clock.Advance(time.Second)
	drain(t, loop)
	assert.Equal(t, []string{"first"}, got)

	clock.Advance(time.Second)
	drain(t, loop)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestTimer_Stop(t *testing.T) {
	loop, clock := startLoop(t)

	fired := false
	timer := loop.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clock.Advance(2 * time.Second)
	drain(t, loop)
	assert.False(t, fired)

	_, timers := loop.Pending()
	assert.Zero(t, timers)
}

func TestLoop_Every(t *testing.T) {
	loop, clock := startLoop(t)

	ticks := 0
	var timer *Timer
	timer = loop.Every(2*time.Second, func() {
		ticks++
		if ticks == 3 {
			timer.Stop()
		}
	})

	clock.Advance(time.Second)
	drain(t, loop)
	assert.Equal(t, 0, ticks)

	clock.Advance(time.Second)
	drain(t, loop)
	assert.Equal(t, 1, ticks)

	clock.Advance(4 * time.Second)
	drain(t, loop)
	assert.Equal(t, 3, ticks)

	clock.Advance(10 * time.Second)
	drain(t, loop)
	assert.Equal(t, 3, ticks)
}

func TestLoop_RecoversPanics(t *testing.T) {
	loop, _ := startLoop(t)

	loop.Post(func() { panic("boom") })
	ran := false
	loop.Post(func() { ran = true })
	drain(t, loop)
	assert.True(t, ran)
}

func TestLoop_DoAfterStop(t *testing.T) {
	loop := New(clockwork.NewFakeClock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	err = loop.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestLoop_EveryRejectsZeroPeriod(t *testing.T) {
	loop := New(clockwork.NewFakeClock(), nil)
	assert.Panics(t, func() { loop.Every(0, func() {}) })
}
