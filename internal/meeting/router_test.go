package meeting

import (
	"context"
	"sync"
	"testing"
	"time"

	"meeting-relay/internal/models"

	"github.com/stretchr/testify/require"
)

// fakeStore satisfies repository.MeetingRepo and records evictions.
type fakeStore struct {
	mu      sync.Mutex
	removed [][2]string
}

func (f *fakeStore) CreateMeeting(ctx context.Context, meetingID string) (bool, error) {
	return true, nil
}
func (f *fakeStore) MeetingExists(ctx context.Context, meetingID string) (bool, error) {
	return true, nil
}
func (f *fakeStore) GetMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	return &models.Meeting{MeetingID: meetingID}, nil
}
func (f *fakeStore) AddParticipant(ctx context.Context, meetingID, participantID string) (bool, error) {
	return true, nil
}
func (f *fakeStore) RemoveParticipant(ctx context.Context, meetingID, participantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, [2]string{meetingID, participantID})
	return true, nil
}
func (f *fakeStore) ParticipantCount(ctx context.Context, meetingID string) (int, error) {
	return 0, nil
}
func (f *fakeStore) ListParticipants(ctx context.Context, meetingID string) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) DeleteStaleMeetings(ctx context.Context, olderThan time.Duration) error {
	return nil
}

func (f *fakeStore) removals() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.removed...)
}

type testRoom struct {
	dir    *Directory
	router *Router
	store  *fakeStore
	peers  map[string]*spyPeer
}

// newTestRoom joins the given participants in order (first one is host)
// and discards the welcome frames so assertions see routed traffic only.
func newTestRoom(t *testing.T, roomID string, ids ...string) *testRoom {
	t.Helper()
	tr := &testRoom{
		dir:   NewDirectory(),
		store: &fakeStore{},
		peers: make(map[string]*spyPeer),
	}
	tr.router = NewRouter(tr.dir, tr.store)
	for _, id := range ids {
		p := &spyPeer{}
		tr.peers[id] = p
		tr.dir.Join(roomID, id, p)
	}
	for _, p := range tr.peers {
		p.reset()
	}
	return tr
}

func (tr *testRoom) route(t *testing.T, roomID, sender, frame string) {
	t.Helper()
	require.NoError(t, tr.router.Route(context.Background(), roomID, sender, []byte(frame)))
}

func TestRouter_RegisterBroadcastsJoinNotice(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")

	tr.route(t, "R1", "P2", `{"type":"register_username","username":"Alice"}`)

	require.Equal(t, "Alice", tr.dir.Username("R1", "P2"))

	// Sender gets no echo.
	require.Empty(t, tr.peers["P2"].received())

	for _, id := range []string{"P1", "P3"} {
		got := tr.peers[id].received()
		require.Len(t, got, 1, "peer %s", id)
		require.Equal(t, "participant_joined", got[0]["type"])
		require.Equal(t, "P2", got[0]["participant_id"])
		require.Equal(t, "Alice", got[0]["username"])
		require.Equal(t, false, got[0]["is_host"])
		require.EqualValues(t, 3, got[0]["participant_count"])
		require.NotZero(t, got[0]["timestamp"])
	}
}

func TestRouter_ChatIncludesSenderAndRegisteredName(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")
	tr.route(t, "R1", "P1", `{"type":"register_username","username":"Alice"}`)
	for _, p := range tr.peers {
		p.reset()
	}

	tr.route(t, "R1", "P1", `{"type":"chat","message":"hello","timestamp":1712000000000}`)

	for id, p := range tr.peers {
		got := p.received()
		require.Len(t, got, 1, "peer %s", id)
		require.Equal(t, "chat", got[0]["type"])
		require.Equal(t, "P1", got[0]["from"])
		require.Equal(t, "Alice", got[0]["username"])
		require.Equal(t, "hello", got[0]["message"])
		require.EqualValues(t, 1712000000000, got[0]["timestamp"])
	}
}

func TestRouter_ReactionExcludesSender(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")

	tr.route(t, "R1", "P1", `{"type":"reaction","emoji":"🎉"}`)

	require.Empty(t, tr.peers["P1"].received())
	for _, id := range []string{"P2", "P3"} {
		got := tr.peers[id].received()
		require.Len(t, got, 1)
		require.Equal(t, "reaction", got[0]["type"])
		require.Equal(t, "P1", got[0]["from"])
		require.Equal(t, "Anonymous", got[0]["username"])
		require.Equal(t, "🎉", got[0]["emoji"])
	}
}

func TestRouter_ParticipantStateExcludesSender(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")

	tr.route(t, "R1", "P2", `{"type":"participant_state","video_enabled":false,"audio_enabled":true}`)

	require.Empty(t, tr.peers["P2"].received())
	got := tr.peers["P1"].received()
	require.Len(t, got, 1)
	require.Equal(t, "participant_state", got[0]["type"])
	require.Equal(t, false, got[0]["video_enabled"])
	require.Equal(t, true, got[0]["audio_enabled"])
}

func TestRouter_RecordingStatusIncludesSender(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")

	tr.route(t, "R1", "P1", `{"type":"recording_status","status":"started"}`)

	for id, p := range tr.peers {
		got := p.received()
		require.Len(t, got, 1, "peer %s", id)
		require.Equal(t, "recording_status", got[0]["type"])
		require.Equal(t, "started", got[0]["status"])
	}
}

func TestRouter_HostControlDeliveredToTargetOnly(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")

	tr.route(t, "R1", "P1", `{"type":"host_control","target_id":"P2","action":"mute_audio","value":true}`)

	require.Empty(t, tr.peers["P1"].received())
	require.Empty(t, tr.peers["P3"].received())

	got := tr.peers["P2"].received()
	require.Len(t, got, 1)
	require.Equal(t, "host_control", got[0]["type"])
	require.Equal(t, "P2", got[0]["target_id"])
	require.Equal(t, "mute_audio", got[0]["action"])
	require.Equal(t, true, got[0]["value"])
	require.Equal(t, "P1", got[0]["from"])
	require.Equal(t, true, got[0]["from_host"])
}

func TestRouter_HostControlFromNonHostDropped(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")

	tr.route(t, "R1", "P2", `{"type":"host_control","target_id":"P3","action":"kick","value":true}`)

	for id, p := range tr.peers {
		require.Empty(t, p.received(), "peer %s must receive nothing", id)
	}
}

func TestRouter_HostControlVacantSlotDropped(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")
	tr.dir.Leave("R1", "P1")

	// Former host is gone; nobody may issue control commands.
	tr.route(t, "R1", "P2", `{"type":"host_control","target_id":"P3","action":"kick","value":true}`)

	require.Empty(t, tr.peers["P3"].received())
}

func TestRouter_HostControlUnknownTargetDropped(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")

	tr.route(t, "R1", "P1", `{"type":"host_control","target_id":"ghost","action":"kick","value":true}`)

	for _, p := range tr.peers {
		require.Empty(t, p.received())
	}
}

func TestRouter_TargetedForwardStampsSender(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")
	tr.route(t, "R1", "P1", `{"type":"register_username","username":"Alice"}`)
	for _, p := range tr.peers {
		p.reset()
	}

	tr.route(t, "R1", "P1", `{"type":"offer","target":"P2","sdp":"v=0 fake"}`)

	require.Empty(t, tr.peers["P1"].received())
	require.Empty(t, tr.peers["P3"].received())

	got := tr.peers["P2"].received()
	require.Len(t, got, 1)
	require.Equal(t, "offer", got[0]["type"])
	require.Equal(t, "v=0 fake", got[0]["sdp"])
	require.Equal(t, "P1", got[0]["from"])
	require.Equal(t, "Alice", got[0]["from_username"])
}

func TestRouter_TargetedForwardUnknownTargetDropped(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")

	tr.route(t, "R1", "P1", `{"type":"ice-candidate","target":"ghost","candidate":"c"}`)

	for _, p := range tr.peers {
		require.Empty(t, p.received())
	}
}

func TestRouter_FallbackBroadcastExcludesSender(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")

	frame := `{"type":"hand_raised","flag":true}`
	tr.route(t, "R1", "P2", frame)

	require.Empty(t, tr.peers["P2"].received())
	for _, id := range []string{"P1", "P3"} {
		got := tr.peers[id].received()
		require.Len(t, got, 1)
		// Unmodified passthrough, no stamping.
		require.Equal(t, "hand_raised", got[0]["type"])
		require.Equal(t, true, got[0]["flag"])
		require.NotContains(t, got[0], "from")
	}
}

func TestRouter_BroadcastPartialFailureEvictsDeadPeer(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")
	tr.peers["P2"].fail = true

	tr.route(t, "R1", "P1", `{"type":"chat","message":"hi","timestamp":42}`)

	// The healthy peers still got the message.
	require.Len(t, tr.peers["P1"].received(), 1)
	got := tr.peers["P3"].received()
	require.Len(t, got, 1)
	require.Equal(t, "chat", got[0]["type"])

	// The dead peer is gone from the live registry and the record store,
	// and nobody saw a participant_left for it.
	require.Equal(t, 2, tr.dir.Count("R1"))
	_, ok := tr.dir.LookupPeer("R1", "P2")
	require.False(t, ok)
	require.Contains(t, tr.store.removals(), [2]string{"R1", "P2"})
	for _, id := range []string{"P1", "P3"} {
		for _, m := range tr.peers[id].received() {
			require.NotEqual(t, "participant_left", m["type"])
		}
	}
}

func TestRouter_MalformedFrameErrors(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")

	tests := []struct {
		name  string
		frame string
	}{
		{"invalid json", `{"type":`},
		{"register without username", `{"type":"register_username"}`},
		{"chat without message", `{"type":"chat","timestamp":42}`},
		{"chat without timestamp", `{"type":"chat","message":"hi"}`},
		{"reaction without emoji", `{"type":"reaction"}`},
		{"state without flags", `{"type":"participant_state","video_enabled":true}`},
		{"recording without status", `{"type":"recording_status"}`},
		{"host_control without action", `{"type":"host_control","target_id":"P2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.router.Route(context.Background(), "R1", "P1", []byte(tt.frame))
			require.ErrorIs(t, err, ErrMalformed)
			require.Empty(t, tr.peers["P2"].received())
		})
	}
}

func TestRouter_BroadcastDeparture(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2", "P3")
	tr.route(t, "R1", "P1", `{"type":"register_username","username":"Alice"}`)
	for _, p := range tr.peers {
		p.reset()
	}

	res, ok := tr.dir.Leave("R1", "P1")
	require.True(t, ok)
	tr.router.BroadcastDeparture(context.Background(), "R1", "P1", res)

	for _, id := range []string{"P2", "P3"} {
		got := tr.peers[id].received()
		require.Len(t, got, 1)
		require.Equal(t, "participant_left", got[0]["type"])
		require.Equal(t, "P1", got[0]["participant_id"])
		require.Equal(t, "Alice", got[0]["username"])
		require.EqualValues(t, 2, got[0]["participant_count"])
	}
}

func TestRouter_RegistrationVisibleInLaterBroadcasts(t *testing.T) {
	tr := newTestRoom(t, "R1", "P1", "P2")

	tr.route(t, "R1", "P1", `{"type":"register_username","username":"Alice"}`)
	tr.route(t, "R1", "P1", `{"type":"reaction","emoji":"👍"}`)

	got := tr.peers["P2"].received()
	require.Len(t, got, 2)
	require.Equal(t, "Alice", got[0]["username"])
	require.Equal(t, "Alice", got[1]["username"])
}
