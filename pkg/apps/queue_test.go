package apps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
		return nil
	}
}

func TestCreationQueue_RunsSequentiallyAndReadyOnce(t *testing.T) {
	q := NewCreationQueue(time.Second)
	defer q.Close()

	var mutex sync.Mutex
	running, maxRunning := 0, 0
	var order []int
	var dones []<-chan error
	for i := 0; i < 5; i++ {
		i := i
		dones = append(dones, q.Push(fmt.Sprint(i), func(context.Context) error {
			mutex.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			order = append(order, i)
			mutex.Unlock()
			time.Sleep(2 * time.Millisecond)
			mutex.Lock()
			running--
			mutex.Unlock()
			return nil
		}))
	}

	var readyCount atomic.Int32
	q.OnReady(func() { readyCount.Add(1) })
	select {
	case <-q.Ready():
		t.Fatal("ready before start")
	default:
	}
	assert.True(t, q.Queued("3"))

	q.Start()
	for _, d := range dones {
		require.NoError(t, waitFor(t, d))
	}
	select {
	case <-q.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("never ready")
	}
	assert.Eventually(t, func() bool { return readyCount.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, waitFor(t, q.Push("late", func(context.Context) error { return nil })))
	assert.Equal(t, int32(1), readyCount.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 1, maxRunning)

	// already ready: runs right away
	late := false
	q.OnReady(func() { late = true })
	assert.True(t, late)
}

func TestCreationQueue_ReadyWhenStartedEmpty(t *testing.T) {
	q := NewCreationQueue(time.Second)
	defer q.Close()
	q.Start()
	select {
	case <-q.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("never ready")
	}
}

func TestCreationQueue_RecoversPanicsAndTimesOut(t *testing.T) {
	q := NewCreationQueue(20 * time.Millisecond)
	defer q.Close()
	q.Start()

	err := waitFor(t, q.Push("panics", func(context.Context) error { panic("boom") }))
	assert.ErrorContains(t, err, "boom")

	err = waitFor(t, q.Push("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sentinel := errors.New("nope")
	assert.ErrorIs(t, waitFor(t, q.Push("fails", func(context.Context) error { return sentinel })), sentinel)
	require.NoError(t, waitFor(t, q.Push("ok", func(context.Context) error { return nil })))
}

func TestCreationQueue_CloseFailsPending(t *testing.T) {
	q := NewCreationQueue(time.Second)
	done := q.Push("never", func(context.Context) error { return nil })
	q.Close()
	assert.ErrorIs(t, waitFor(t, done), ErrQueueClosed)
	assert.ErrorIs(t, waitFor(t, q.Push("after", func(context.Context) error { return nil })), ErrQueueClosed)
}

func TestContext_BoxBeforeCreation(t *testing.T) {
	ctx := &Context{proxy: &Proxy{id: "a1"}}
	_, err := ctx.Box()
	var notCreated *BoxNotCreatedError
	require.ErrorAs(t, err, &notCreated)
	assert.Equal(t, "a1", notCreated.AppID)
}

func TestEntry_RoundTrip(t *testing.T) {
	e := Entry{
		Kind:    "Slide",
		Options: Options{ScenePath: "/slide/1", Title: "deck", Scenes: []string{"a", "b"}},
		State:   WindowState{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.4, SceneIndex: 1, ZIndex: 3},
		Src:     "https://example.test/slide.js",
	}
	got, err := decodeEntry(e.toMap())
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = decodeEntry(map[string]any{"state": map[string]any{}})
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	var invalid *InvalidParamsError
	assert.ErrorAs(t, Params{}.validate(), &invalid)
	assert.ErrorAs(t, Params{Kind: "a/b"}.validate(), &invalid)
	assert.ErrorAs(t, Params{Kind: "a", Options: Options{ScenePath: "x"}}.validate(), &invalid)
	assert.ErrorAs(t, Params{Kind: "a", IsDynamicPPT: true}.validate(), &invalid)
	assert.NoError(t, Params{Kind: "a", Options: Options{ScenePath: "/x"}}.validate())
}
