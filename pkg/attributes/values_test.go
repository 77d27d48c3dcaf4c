package attributes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	type box struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 3, int64(3)},
		{"float32", float32(0.5), 0.5},
		{"nested map", map[string]any{"a": []int{1, 2}}, map[string]any{"a": []any{int64(1), int64(2)}}},
		{"string map", map[string]string{"a": "b"}, map[string]any{"a": "b"}},
		{"struct", box{Width: 1, Height: 2}, map[string]any{"width": 1.0, "height": 2.0}},
		{"pointer", &box{Width: 3}, map[string]any{"width": 3.0, "height": 0.0}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	_, err := Normalize(map[int]string{1: "a"})
	assert.Error(t, err)
	_, err = Normalize(func() {})
	assert.Error(t, err)
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	in := map[string]any{"a": int64(1)}
	out, err := Normalize(in)
	require.NoError(t, err)
	in["a"] = int64(2)
	assert.Equal(t, int64(1), out.(map[string]any)["a"])
}

func TestDiff(t *testing.T) {
	before := map[string]any{"a": int64(1), "b": map[string]any{"x": "1", "y": "2"}, "c": true}
	after := map[string]any{"a": int64(1), "b": map[string]any{"x": "1", "y": "3"}, "d": "new"}

	evs := Diff([]string{"root"}, before, after)
	require.Len(t, evs, 3)
	assert.Equal(t, Event{Kind: Updated, Path: []string{"root", "b", "y"}, OldValue: "2", NewValue: "3"}, evs[0])
	assert.Equal(t, Event{Kind: Removed, Path: []string{"root", "c"}, OldValue: true}, evs[1])
	assert.Equal(t, Event{Kind: Inserted, Path: []string{"root", "d"}, NewValue: "new"}, evs[2])
}

func TestRelated(t *testing.T) {
	assert.True(t, related([]string{"apps"}, []string{"apps", "a1"}))
	assert.True(t, related([]string{"apps", "a1"}, []string{"apps"}))
	assert.True(t, related(nil, []string{"x"}))
	assert.False(t, related([]string{"apps"}, []string{"focus"}))
}
