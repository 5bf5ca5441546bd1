package meeting

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"meeting-relay/internal/repository"
	"meeting-relay/pkg/metrics"
)

// Router classifies inbound frames and performs delivery. Routing failures
// (unknown recipient, unauthorized control) are dropped without any reply to
// the sender; only malformed input surfaces as an error, and the caller
// terminates that session.
type Router struct {
	dir   *Directory
	store repository.MeetingRepo
}

func NewRouter(dir *Directory, store repository.MeetingRepo) *Router {
	return &Router{dir: dir, store: store}
}

// Route handles one inbound frame from senderID in roomID.
func (rt *Router) Route(ctx context.Context, roomID, senderID string, frame []byte) error {
	env, err := ParseEnvelope(frame)
	if err != nil {
		return err
	}

	switch {
	case env.Type == KindRegisterUsername:
		metrics.RoutedFrames.WithLabelValues(string(env.Type)).Inc()
		rt.handleRegister(ctx, roomID, senderID, env)

	case env.Type == KindChat:
		metrics.RoutedFrames.WithLabelValues(string(env.Type)).Inc()
		rt.broadcast(ctx, roomID, senderID, true, mustMarshal(chatBroadcast{
			Type:      KindChat,
			From:      senderID,
			Username:  rt.dir.Username(roomID, senderID),
			Message:   env.Message,
			Timestamp: env.Timestamp,
		}))
		log.Printf("[ROUTER] Chat message from %s in room %s", senderID, roomID)

	case env.Type == KindReaction:
		metrics.RoutedFrames.WithLabelValues(string(env.Type)).Inc()
		rt.broadcast(ctx, roomID, senderID, false, mustMarshal(reactionBroadcast{
			Type:     KindReaction,
			From:     senderID,
			Username: rt.dir.Username(roomID, senderID),
			Emoji:    env.Emoji,
		}))

	case env.Type == KindParticipantState:
		metrics.RoutedFrames.WithLabelValues(string(env.Type)).Inc()
		rt.broadcast(ctx, roomID, senderID, false, mustMarshal(stateBroadcast{
			Type:         KindParticipantState,
			From:         senderID,
			Username:     rt.dir.Username(roomID, senderID),
			VideoEnabled: *env.VideoEnabled,
			AudioEnabled: *env.AudioEnabled,
		}))

	case env.Type == KindRecordingStatus:
		metrics.RoutedFrames.WithLabelValues(string(env.Type)).Inc()
		rt.broadcast(ctx, roomID, senderID, true, mustMarshal(recordingBroadcast{
			Type:     KindRecordingStatus,
			From:     senderID,
			Username: rt.dir.Username(roomID, senderID),
			Status:   env.Status,
		}))

	case env.Type == KindHostControl:
		metrics.RoutedFrames.WithLabelValues(string(env.Type)).Inc()
		rt.handleHostControl(ctx, roomID, senderID, env)

	case env.Target != "":
		metrics.RoutedFrames.WithLabelValues("forward").Inc()
		rt.forwardToTarget(ctx, roomID, senderID, env)

	default:
		metrics.RoutedFrames.WithLabelValues("fallback").Inc()
		rt.broadcast(ctx, roomID, senderID, false, env.raw)
	}
	return nil
}

// handleRegister updates the display name, then tells everyone else about
// the (now named) arrival.
func (rt *Router) handleRegister(ctx context.Context, roomID, senderID string, env *Envelope) {
	if !rt.dir.SetUsername(roomID, senderID, env.Username) {
		return
	}
	view, ok := rt.dir.View(roomID, senderID)
	if !ok {
		return
	}
	rt.broadcast(ctx, roomID, senderID, false, mustMarshal(joinedNotice{
		Type:             KindParticipantJoined,
		ParticipantID:    senderID,
		Username:         view.Username,
		IsHost:           view.IsHost,
		ParticipantCount: rt.dir.Count(roomID),
		Timestamp:        nowMillis(),
	}))
	log.Printf("[ROUTER] Registered %s as %q in room %s", senderID, env.Username, roomID)
}

// handleHostControl delivers a privileged command to one participant, but
// only when the sender holds the room's host slot.
func (rt *Router) handleHostControl(ctx context.Context, roomID, senderID string, env *Envelope) {
	hostID := rt.dir.HostID(roomID)
	if hostID == "" || senderID != hostID {
		log.Printf("[ROUTER] Dropping host_control from non-host %s in room %s", senderID, roomID)
		return
	}
	peer, ok := rt.dir.LookupPeer(roomID, env.TargetID)
	if !ok {
		log.Printf("[ROUTER] host_control target %s not in room %s", env.TargetID, roomID)
		return
	}
	frame := mustMarshal(hostCommand{
		Type:     KindHostControl,
		TargetID: env.TargetID,
		Action:   env.Action,
		Value:    env.Value,
		From:     senderID,
		FromHost: true,
	})
	if !peer.Enqueue(frame) {
		rt.evict(ctx, roomID, env.TargetID)
	}
}

// forwardToTarget relays an opaque signaling payload to exactly one
// participant, stamping sender identity and display name onto the frame.
func (rt *Router) forwardToTarget(ctx context.Context, roomID, senderID string, env *Envelope) {
	peer, ok := rt.dir.LookupPeer(roomID, env.Target)
	if !ok {
		log.Printf("[ROUTER] Target %s not in room %s, dropping %s", env.Target, roomID, env.Type)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(env.raw, &fields); err != nil {
		// The frame already decoded once; this cannot happen.
		return
	}
	fields["from"] = senderID
	fields["from_username"] = rt.dir.Username(roomID, senderID)
	frame, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if !peer.Enqueue(frame) {
		rt.evict(ctx, roomID, env.Target)
	}
}

// BroadcastDeparture tells the remaining participants that someone left.
// Called by the session teardown after the registry entry is gone.
func (rt *Router) BroadcastDeparture(ctx context.Context, roomID, participantID string, res LeaveResult) {
	rt.broadcast(ctx, roomID, participantID, false, mustMarshal(leftNotice{
		Type:             KindParticipantLeft,
		ParticipantID:    participantID,
		Username:         res.Username,
		ParticipantCount: res.Remaining,
		Timestamp:        nowMillis(),
	}))
}

// broadcast fans one frame out to the room. A failed send never aborts the
// remaining deliveries; the unreachable peer is evicted afterwards.
func (rt *Router) broadcast(ctx context.Context, roomID, senderID string, includeSender bool, frame []byte) {
	var failed []string
	for _, ref := range rt.dir.peers(roomID) {
		if !includeSender && ref.id == senderID {
			continue
		}
		if !ref.peer.Enqueue(frame) {
			log.Printf("[ROUTER] Send to %s in room %s failed", ref.id, roomID)
			failed = append(failed, ref.id)
		}
	}
	for _, id := range failed {
		rt.evict(ctx, roomID, id)
	}
}

// evict removes an unreachable participant from the live registry and the
// persisted record. It is presumed gone, so no departure notice is sent
// to it and none is broadcast on its behalf.
func (rt *Router) evict(ctx context.Context, roomID, participantID string) {
	if _, ok := rt.dir.Leave(roomID, participantID); ok {
		metrics.EvictedPeers.Inc()
		log.Printf("[ROUTER] Evicted unreachable participant %s from room %s", participantID, roomID)
	}
	if rt.store == nil {
		return
	}
	dbctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := rt.store.RemoveParticipant(dbctx, roomID, participantID); err != nil {
		log.Printf("[ROUTER] Persistence removal failed for %s/%s: %v", roomID, participantID, err)
	}
}
