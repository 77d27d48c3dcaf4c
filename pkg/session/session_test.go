package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/appcanvas/pkg/apps"
	"github.com/astromechza/appcanvas/pkg/attributes"
	"github.com/astromechza/appcanvas/pkg/camera"
	"github.com/astromechza/appcanvas/pkg/headless"
)

func newSession(t *testing.T, participant string, width, height float64) (*Session, *headless.View) {
	t.Helper()
	store, err := attributes.New(participant)
	require.NoError(t, err)
	views := headless.NewViews(width, height)
	main, err := views.Create(MainScope)
	require.NoError(t, err)
	s, err := New(Options{
		Participant:   participant,
		Store:         store,
		Boxes:         headless.NewBoxes(),
		Views:         views,
		Scenes:        headless.NewScenes(),
		MainView:      main,
		Clock:         clockwork.NewFakeClock(),
		CreateTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, s.Register(apps.Module{
		Kind:  "Note",
		Setup: func(*apps.Context) error { return nil },
	}))
	t.Cleanup(s.Destroy)
	return s, main
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	store, err := attributes.New("alice")
	require.NoError(t, err)
	_, err = New(Options{Participant: "alice", Store: store})
	assert.ErrorContains(t, err, "box manager")
}

func TestSession_MainCameraAcrossParticipants(t *testing.T) {
	alice, aliceView := newSession(t, "alice", 600, 600)
	alice.Start()
	bob, bobView := newSession(t, "bob", 300, 300)
	pa, pb := alice.Store().NewPeer(), bob.Store().NewPeer()
	require.NoError(t, attributes.SyncPeers(pa, pb))
	bob.Start()

	aliceView.Pan(camera.Camera{CenterX: 10, CenterY: -4, Scale: 1})
	alice.MainCamera().Flush()
	require.NoError(t, attributes.SyncPeers(pa, pb))
	bob.MainCamera().Flush()

	assert.Equal(t, camera.Camera{CenterX: 10, CenterY: -4, Scale: 0.5}, bobView.Camera())
	assert.Equal(t, camera.Camera{CenterX: 10, CenterY: -4, Scale: 1}, aliceView.Camera())
}

func TestSession_MainViewWritableFollowsFocus(t *testing.T) {
	s, main := newSession(t, "alice", 800, 600)
	s.Start()
	<-s.Manager().Ready()
	assert.True(t, main.Writable())

	id, err := s.Manager().AddApp(context.Background(), apps.Params{Kind: "Note"})
	require.NoError(t, err)
	assert.Equal(t, id, s.Manager().Focus())
	assert.False(t, main.Writable())

	require.NoError(t, s.Manager().SetFocus(""))
	assert.True(t, main.Writable())

	s.Store().SetWritable(false)
	assert.False(t, main.Writable())
}

func TestSession_DestroyIsIdempotent(t *testing.T) {
	s, main := newSession(t, "alice", 800, 600)
	s.Start()
	s.Destroy()
	s.Destroy()
	assert.Nil(t, s.MainCamera())

	// the view no longer drives the camera
	main.Pan(camera.Camera{CenterX: 1, Scale: 2})
	_, ok := s.Store().Get("views", MainScope, "camera")
	assert.True(t, ok)
	cam, _, _ := camera.Decode(s.Store(), camera.ViewPath(MainScope))
	assert.Equal(t, 1.0, cam.Scale)
}
