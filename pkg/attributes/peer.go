package attributes

import (
	"fmt"
	"strings"

	"github.com/automerge/automerge-go"
)

// Peer is the sync state this store keeps for one remote participant or relay connection.
type Peer struct {
	store *DocStore
	state *automerge.SyncState
}

// NewPeer starts a fresh sync session with a remote party.
func (s *DocStore) NewPeer() *Peer {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return &Peer{store: s, state: automerge.NewSyncState(s.doc)}
}

// Generate returns the next sync message for the remote party, if there is one to send.
func (p *Peer) Generate() ([]byte, bool) {
	p.store.mutex.Lock()
	defer p.store.mutex.Unlock()
	msg, valid := p.state.GenerateMessage()
	if msg == nil || !valid {
		return nil, false
	}
	return msg.Bytes(), true
}

// Receive applies a sync message from the remote party and emits remote events for whatever
// values it changed.
func (p *Peer) Receive(raw []byte) error {
	s := p.store
	s.mutex.Lock()
	headsBefore := headsKey(s.doc.Heads())
	before := s.snapshotLocked()
	if _, err := p.state.ReceiveMessage(raw); err != nil {
		s.mutex.Unlock()
		return fmt.Errorf("failed to receive message: %w", err)
	}
	after := s.snapshotLocked()
	headsChanged := headsBefore != headsKey(s.doc.Heads())
	s.mutex.Unlock()

	evs := Diff(nil, before, after)
	for i := range evs {
		evs[i].Remote = true
	}
	s.emit(evs)
	if len(evs) == 0 && headsChanged {
		s.changed.SafeEmit("changed", struct{}{})
	}
	return nil
}

// SyncPeers exchanges messages between two in-process peers until neither has anything left to
// send.
func SyncPeers(a, b *Peer) error {
	hadMessages := true
	for hadMessages {
		hadMessages = false
		for {
			msg, ok := a.Generate()
			if !ok {
				break
			}
			hadMessages = true
			if err := b.Receive(msg); err != nil {
				return err
			}
		}
		for {
			msg, ok := b.Generate()
			if !ok {
				break
			}
			hadMessages = true
			if err := a.Receive(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func headsKey(heads []automerge.ChangeHash) string {
	parts := make([]string, len(heads))
	for i, h := range heads {
		parts[i] = h.String()
	}
	return strings.Join(parts, ",")
}
