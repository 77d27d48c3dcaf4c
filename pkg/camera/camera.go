// Package camera keeps a logical camera consistent across participants whose viewports have
// different pixel sizes.
//
// A published camera is always paired with the size of the viewport it was framed in. A receiver
// scales it by how much smaller or larger its own viewport is, so every participant sees the same
// region of the board.
package camera

import (
	"fmt"
	"math"
)

type Camera struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Scale   float64 `json:"scale"`
}

func (c Camera) valid() bool {
	return c.Scale > 0 && !math.IsNaN(c.Scale) && !math.IsInf(c.Scale, 0) &&
		!math.IsNaN(c.CenterX) && !math.IsNaN(c.CenterY)
}

// Size is the viewport a camera was framed in. ID names the participant that published it.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ID     string  `json:"id"`
}

func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Rect is the local viewport.
type Rect struct {
	Width  float64
	Height float64
}

func (r Rect) valid() bool {
	return r.Width > 0 && r.Height > 0
}

// DiffScale is how much the local viewport is scaled relative to the reference size.
func DiffScale(reference Size, local Rect) float64 {
	return math.Min(local.Width/reference.Width, local.Height/reference.Height)
}

// Reconcile maps a remote camera framed in remoteSize onto the local viewport. The centre is kept
// and the scale multiplied by the viewport ratio. It reports false when any input is missing or
// the result is not usable.
func Reconcile(remote Camera, remoteSize Size, local Rect) (Camera, bool) {
	if !remote.valid() || !remoteSize.valid() || !local.valid() {
		return Camera{}, false
	}
	out := Camera{
		CenterX: remote.CenterX,
		CenterY: remote.CenterY,
		Scale:   remote.Scale * DiffScale(remoteSize, local),
	}
	if !out.valid() {
		return Camera{}, false
	}
	return out, true
}

// Mode decides which direction camera updates flow for a participant.
type Mode int

const (
	// Broadcaster applies remote cameras and publishes its own.
	Broadcaster Mode = iota
	// Follower applies remote cameras but never publishes.
	Follower
	// Freedom records remote cameras without applying them.
	Freedom
)

func (m Mode) String() string {
	switch m {
	case Broadcaster:
		return "broadcaster"
	case Follower:
		return "follower"
	case Freedom:
		return "freedom"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Broadcaster, Follower, Freedom} {
		if m.String() == s {
			return m, nil
		}
	}
	return Broadcaster, fmt.Errorf("unknown camera mode %q", s)
}
