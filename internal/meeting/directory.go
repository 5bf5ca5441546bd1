package meeting

import (
	"log"
	"sync"
	"time"

	"meeting-relay/pkg/metrics"
)

// Peer is the outbound half of a participant's connection. Enqueue offers
// one frame without blocking; false means the peer is unreachable (buffer
// full or connection gone) and the caller treats it as disconnected.
type Peer interface {
	Enqueue(frame []byte) bool
}

type participant struct {
	peer     Peer
	username string
	isHost   bool
	joinedAt time.Time
}

// Room holds the live registry of one meeting. All mutations go through
// the room's own mutex; rooms never serialize against each other.
type Room struct {
	id        string
	createdAt time.Time

	mu           sync.RWMutex
	hostID       string
	participants map[string]*participant
	closed       bool
}

type peerRef struct {
	id   string
	peer Peer
}

// snapshotLocked returns views of everyone except exclude. Callers hold mu.
func (rm *Room) snapshotLocked(exclude string) []ParticipantView {
	views := make([]ParticipantView, 0, len(rm.participants))
	for id, p := range rm.participants {
		if id == exclude {
			continue
		}
		views = append(views, ParticipantView{ID: id, Username: p.username, IsHost: p.isHost})
	}
	return views
}

// Directory owns every live room. It is the only shared mutable structure
// in the relay; the directory lock guards just the rooms map, everything
// else is per-room.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

type JoinResult struct {
	IsHost   bool
	HostID   string
	Existing []ParticipantView
}

type LeaveResult struct {
	WasHost   bool
	Username  string
	Remaining int
}

// ensure returns the live room, creating it when absent.
func (d *Directory) ensure(roomID string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	rm := d.rooms[roomID]
	if rm == nil {
		rm = &Room{
			id:           roomID,
			createdAt:    time.Now(),
			participants: make(map[string]*participant),
		}
		d.rooms[roomID] = rm
		metrics.ActiveMeetings.Inc()
		log.Printf("[DIRECTORY] Room %s opened", roomID)
	}
	return rm
}

// Join registers a participant. The first participant of an empty room takes
// the host slot in the same critical section, so there is no window where a
// populated room has an unresolved host. The welcome frame is enqueued to the
// joining peer under the room lock: every broadcast fanned out after this
// join observes the registration and is therefore ordered after the welcome.
func (d *Directory) Join(roomID, participantID string, peer Peer) JoinResult {
	for {
		rm := d.ensure(roomID)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last leave; the directory entry is gone.
			rm.mu.Unlock()
			continue
		}
		p := &participant{peer: peer, username: defaultUsername, joinedAt: time.Now()}
		rm.participants[participantID] = p
		if len(rm.participants) == 1 {
			rm.hostID = participantID
			p.isHost = true
		}
		res := JoinResult{
			IsHost:   rm.hostID == participantID,
			HostID:   rm.hostID,
			Existing: rm.snapshotLocked(participantID),
		}
		peer.Enqueue(mustMarshal(welcomePayload{
			Type:         KindExistingParticipants,
			Participants: res.Existing,
			IsHost:       res.IsHost,
			HostID:       res.HostID,
		}))
		rm.mu.Unlock()

		metrics.ActiveParticipants.Inc()
		log.Printf("[DIRECTORY] Participant %s joined room %s (host=%v, peers=%d)",
			participantID, roomID, res.IsHost, len(res.Existing))
		return res
	}
}

// Leave deregisters a participant and destroys the room when it empties.
// A departing host leaves the slot vacant; it is never reassigned while
// the room stays populated.
func (d *Directory) Leave(roomID, participantID string) (LeaveResult, bool) {
	d.mu.RLock()
	rm := d.rooms[roomID]
	d.mu.RUnlock()
	if rm == nil {
		return LeaveResult{}, false
	}

	rm.mu.Lock()
	p, ok := rm.participants[participantID]
	if !ok {
		rm.mu.Unlock()
		return LeaveResult{}, false
	}
	delete(rm.participants, participantID)
	if rm.hostID == participantID {
		rm.hostID = ""
	}
	res := LeaveResult{
		WasHost:   p.isHost,
		Username:  p.username,
		Remaining: len(rm.participants),
	}
	emptied := len(rm.participants) == 0
	if emptied {
		rm.closed = true
	}
	rm.mu.Unlock()

	if emptied {
		d.mu.Lock()
		if d.rooms[roomID] == rm {
			delete(d.rooms, roomID)
			metrics.ActiveMeetings.Dec()
			log.Printf("[DIRECTORY] Room %s destroyed", roomID)
		}
		d.mu.Unlock()
	}

	metrics.ActiveParticipants.Dec()
	return res, true
}

// SetUsername updates the display name; false when the participant is gone.
func (d *Directory) SetUsername(roomID, participantID, name string) bool {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.participants[participantID]
	if !ok {
		return false
	}
	p.username = name
	return true
}

// Username returns the current display name, or the anonymous default.
func (d *Directory) Username(roomID, participantID string) string {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return defaultUsername
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if p, ok := rm.participants[participantID]; ok {
		return p.username
	}
	return defaultUsername
}

// LookupPeer resolves a participant's connection handle.
func (d *Directory) LookupPeer(roomID, participantID string) (Peer, bool) {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return nil, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	p, ok := rm.participants[participantID]
	if !ok {
		return nil, false
	}
	return p.peer, true
}

// View returns the snapshot entry for one participant.
func (d *Directory) View(roomID, participantID string) (ParticipantView, bool) {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return ParticipantView{}, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	p, ok := rm.participants[participantID]
	if !ok {
		return ParticipantView{}, false
	}
	return ParticipantView{ID: participantID, Username: p.username, IsHost: p.isHost}, true
}

// Snapshot returns views of every current participant of the room.
func (d *Directory) Snapshot(roomID string) []ParticipantView {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.snapshotLocked("")
}

// HostID returns the room's current host, or "" while the slot is vacant.
func (d *Directory) HostID(roomID string) string {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return ""
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.hostID
}

// Count returns the live participant count of the room.
func (d *Directory) Count(roomID string) int {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.participants)
}

// Stats reports live rooms and total participants for the health endpoint.
func (d *Directory) Stats() (rooms, participants int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, rm := range d.rooms {
		rm.mu.RLock()
		participants += len(rm.participants)
		rm.mu.RUnlock()
	}
	return len(d.rooms), participants
}

// peers snapshots delivery targets under the room lock so fan-out never
// touches a half-removed participant.
func (d *Directory) peers(roomID string) []peerRef {
	rm := d.lookupRoom(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	refs := make([]peerRef, 0, len(rm.participants))
	for id, p := range rm.participants {
		refs = append(refs, peerRef{id: id, peer: p.peer})
	}
	return refs
}

func (d *Directory) lookupRoom(roomID string) *Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[roomID]
}
