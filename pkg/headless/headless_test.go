package headless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/page"
)

func TestBoxes_UserActionsRaiseEvents(t *testing.T) {
	b := NewBoxes()
	var got []apps.BoxEvent
	b.OnEvent(func(ev apps.BoxEvent) { got = append(got, ev) })

	_, err := b.CreateBox(apps.BoxConfig{AppID: "a", Width: 10, Height: 10, MinWidth: 20, MinHeight: 5, ZIndex: 2})
	require.NoError(t, err)
	_, err = b.CreateBox(apps.BoxConfig{AppID: "b", Width: 10, Height: 10, ZIndex: 1, Focus: true})
	require.NoError(t, err)
	_, err = b.CreateBox(apps.BoxConfig{AppID: "a"})
	assert.Error(t, err)

	// programmatic changes are silent
	require.NoError(t, b.MoveBox("a", 1, 1))
	require.NoError(t, b.SetZIndex("a", 3))
	assert.Empty(t, got)
	assert.Equal(t, []string{"b", "a"}, b.IDs())

	require.NoError(t, b.Drag("a", 5, 6))
	require.NoError(t, b.Resize("a", 1, 30))
	require.NoError(t, b.Click("a"))
	require.NoError(t, b.ClickState(apps.Maximized))
	b.ClickClose("a")

	require.Len(t, got, 5)
	assert.Equal(t, apps.BoxEvent{Kind: apps.BoxMoved, AppID: "a", X: 5, Y: 6}, got[0])
	assert.Equal(t, apps.BoxEvent{Kind: apps.BoxResized, AppID: "a", X: 5, Y: 6, Width: 20, Height: 30}, got[1])
	assert.Equal(t, apps.BoxFocused, got[2].Kind)
	assert.Equal(t, apps.BoxEvent{Kind: apps.BoxStateChanged, State: apps.Maximized}, got[3])
	assert.Equal(t, apps.BoxClosed, got[4].Kind)

	box, ok := b.Get("a")
	require.True(t, ok)
	assert.True(t, box.Focused())
	other, _ := b.Get("b")
	assert.False(t, other.Focused())
	assert.Equal(t, apps.Maximized, b.BoxState())
	assert.Error(t, b.ClickState("sideways"))

	// the chrome only reports the close; the manager closes the box
	require.NoError(t, b.CloseBox("a"))
	_, ok = b.Get("a")
	assert.False(t, ok)
	assert.Error(t, b.MoveBox("a", 0, 0))
}

func TestViews_PanAndDestroy(t *testing.T) {
	vs := NewViews(800, 600)
	v, err := vs.Create("a")
	require.NoError(t, err)
	_, err = vs.CreateView("a")
	assert.Error(t, err)
	assert.Equal(t, camera.Rect{Width: 800, Height: 600}, v.Rect())

	var cams []camera.Camera
	v.OnCameraUpdated(func(c camera.Camera) { cams = append(cams, c) })
	v.MoveCamera(camera.Camera{CenterX: 1, Scale: 1})
	v.Pan(camera.Camera{CenterX: 2, Scale: 1})
	assert.Equal(t, []camera.Camera{{CenterX: 1, Scale: 1}, {CenterX: 2, Scale: 1}}, cams)
	assert.Equal(t, camera.Camera{CenterX: 2, Scale: 1}, v.Camera())

	v.Destroy()
	assert.True(t, v.Destroyed())
	_, ok := vs.Get("a")
	assert.False(t, ok)
	_, err = vs.Create("a")
	assert.NoError(t, err)
}

func TestScenes(t *testing.T) {
	s := NewScenes()
	require.NoError(t, s.AddScene("/d", page.Scene{Name: "1"}, -1))
	require.NoError(t, s.AddScene("/d", page.Scene{Name: "2"}, -1))
	require.NoError(t, s.AddScene("/d", page.Scene{Name: "0"}, 0))
	assert.Error(t, s.AddScene("/d", page.Scene{Name: "1"}, 0))
	assert.Equal(t, []page.Scene{{Name: "0"}, {Name: "1"}, {Name: "2"}}, s.Scenes("/d"))

	require.NoError(t, s.SetSceneIndex("/d", 2))
	assert.Equal(t, 2, s.SceneIndex("/d"))
	assert.Error(t, s.SetSceneIndex("/d", 3))

	require.NoError(t, s.RemoveScene("/d", "1"))
	assert.Error(t, s.RemoveScene("/d", "1"))
	assert.Equal(t, []page.Scene{{Name: "0"}, {Name: "2"}}, s.Scenes("/d"))
}
