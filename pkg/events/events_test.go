package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListeners_AddEmitDispose(t *testing.T) {
	var l Listeners[int]
	var got []int
	dispose := l.Add(func(v int) { got = append(got, v) })
	l.Emit(1)
	dispose()
	dispose()
	l.Emit(2)
	assert.Equal(t, []int{1}, got)
	assert.Equal(t, 0, l.Len())
}

func TestListeners_DisposeDuringEmit(t *testing.T) {
	var l Listeners[string]
	calls := 0
	var dispose func()
	dispose = l.Add(func(string) {
		calls++
		dispose()
	})
	l.Add(func(string) { calls++ })
	l.Emit("a")
	l.Emit("b")
	assert.Equal(t, 3, calls)
}

func TestListeners_SafeEmitIsolatesPanics(t *testing.T) {
	var l Listeners[int]
	reached := false
	l.Add(func(int) { panic("boom") })
	l.Add(func(int) { reached = true })
	require.NotPanics(t, func() { l.SafeEmit("test", 1) })
	assert.True(t, reached)
}

func TestGuard(t *testing.T) {
	assert.NoError(t, Guard(func() {}))
	err := Guard(func() { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestEmitter_Once(t *testing.T) {
	e := NewEmitter("test")
	count := 0
	e.Once("destroy", func(any) { count++ })
	e.Emit("destroy", nil)
	e.Emit("destroy", nil)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, e.Count("destroy"))
}
