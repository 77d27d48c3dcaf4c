package camera

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/astromechza/appcanvas/pkg/scheduler"
)

const (
	applyKey   = "apply"
	publishKey = "publish"
)

// Viewport is the render surface a Synchronizer drives.
type Viewport interface {
	MoveCamera(Camera)
}

// Publisher sends a camera together with the viewport it was framed in.
type Publisher func(Camera, Size)

type Synchronizer struct {
	participant string
	view        Viewport
	publish     Publisher
	coalescer   *scheduler.Coalescer

	mutex       sync.Mutex
	mode        Mode
	remote      *Camera
	remoteSize  *Size
	rect        Rect
	lastApplied *Camera
}

func NewSynchronizer(participant string, view Viewport, publish Publisher, clock clockwork.Clock, window time.Duration) *Synchronizer {
	return &Synchronizer{
		participant: participant,
		view:        view,
		publish:     publish,
		coalescer:   scheduler.NewCoalescer(clock, window),
	}
}

func (s *Synchronizer) Mode() Mode {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.mode
}

// SetMode switches mode. Leaving Freedom applies the last recorded remote camera.
func (s *Synchronizer) SetMode(mode Mode) {
	s.mutex.Lock()
	prev := s.mode
	s.mode = mode
	s.mutex.Unlock()
	if prev == Freedom && mode != Freedom {
		s.coalescer.Schedule(applyKey, s.apply)
	}
	if mode == Freedom {
		s.coalescer.Cancel(applyKey)
	}
}

// Remote returns the last remote camera and its reference size.
func (s *Synchronizer) Remote() (Camera, Size, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.remote == nil || s.remoteSize == nil {
		return Camera{}, Size{}, false
	}
	return *s.remote, *s.remoteSize, true
}

// OnRemote records a camera published by another participant and schedules applying it.
// Updates carrying this participant's own id are echoes and are dropped.
func (s *Synchronizer) OnRemote(cam Camera, size Size) {
	if size.ID != "" && size.ID == s.participant {
		return
	}
	s.mutex.Lock()
	s.remote = &cam
	s.remoteSize = &size
	mode := s.mode
	s.mutex.Unlock()
	if mode != Freedom {
		s.coalescer.Schedule(applyKey, s.apply)
	}
}

// SetRect records a local viewport change and re-frames the remote camera into it.
func (s *Synchronizer) SetRect(rect Rect) {
	s.mutex.Lock()
	if s.rect == rect {
		s.mutex.Unlock()
		return
	}
	s.rect = rect
	mode := s.mode
	s.mutex.Unlock()
	if mode != Freedom {
		s.coalescer.Schedule(applyKey, s.apply)
	}
}

// OnLocalCamera is called when the viewport camera changed. In Broadcaster mode the change is
// published, unless it is the camera this synchronizer just applied.
func (s *Synchronizer) OnLocalCamera(cam Camera) {
	s.mutex.Lock()
	if s.lastApplied != nil && *s.lastApplied == cam {
		s.mutex.Unlock()
		return
	}
	mode := s.mode
	rect := s.rect
	s.mutex.Unlock()
	if mode != Broadcaster || s.publish == nil {
		return
	}
	s.coalescer.Schedule(publishKey, func() { s.publishLocal(cam, rect) })
}

func (s *Synchronizer) publishLocal(cam Camera, rect Rect) {
	if !cam.valid() || !rect.valid() {
		slog.Debug("skipping camera publish with empty viewport", "participant", s.participant)
		return
	}
	// the local rect becomes the new reference size, so the scale is published as is
	size := Size{Width: rect.Width, Height: rect.Height, ID: s.participant}
	s.mutex.Lock()
	s.remote = &cam
	s.remoteSize = &size
	s.mutex.Unlock()
	s.publish(cam, size)
}

func (s *Synchronizer) apply() {
	s.mutex.Lock()
	if s.mode == Freedom || s.remote == nil || s.remoteSize == nil {
		s.mutex.Unlock()
		return
	}
	next, ok := Reconcile(*s.remote, *s.remoteSize, s.rect)
	if !ok {
		s.mutex.Unlock()
		return
	}
	s.lastApplied = &next
	s.mutex.Unlock()
	s.view.MoveCamera(next)
}

// Flush applies and publishes anything pending right away.
func (s *Synchronizer) Flush() {
	s.coalescer.Flush(applyKey)
	s.coalescer.Flush(publishKey)
}

// Destroy cancels pending updates.
func (s *Synchronizer) Destroy() {
	s.coalescer.Stop()
}
