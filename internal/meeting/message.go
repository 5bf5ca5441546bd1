package meeting

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string

// Inbound envelope kinds. Anything else either carries a "target" field
// (opaque signaling forward) or falls through to the generic broadcast.
const (
	KindRegisterUsername Kind = "register_username"
	KindChat             Kind = "chat"
	KindReaction         Kind = "reaction"
	KindParticipantState Kind = "participant_state"
	KindRecordingStatus  Kind = "recording_status"
	KindHostControl      Kind = "host_control"
)

// Outbound-only kinds.
const (
	KindExistingParticipants Kind = "existing_participants"
	KindParticipantJoined    Kind = "participant_joined"
	KindParticipantLeft      Kind = "participant_left"
	KindRateLimited          Kind = "rate_limited"
)

// ErrMalformed marks an inbound frame that cannot be processed. The session
// that produced it is terminated; nothing of the frame is forwarded.
var ErrMalformed = errors.New("malformed envelope")

const defaultUsername = "Anonymous"

// Envelope is the parsed inbound frame. Only the fields relevant to the
// declared type are validated; the original bytes are kept for opaque
// forwarding of signaling payloads.
type Envelope struct {
	Type   Kind   `json:"type"`
	Target string `json:"target,omitempty"`

	Username     string          `json:"username,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	Emoji        string          `json:"emoji,omitempty"`
	VideoEnabled *bool           `json:"video_enabled,omitempty"`
	AudioEnabled *bool           `json:"audio_enabled,omitempty"`
	Status       string          `json:"status,omitempty"`
	TargetID     string          `json:"target_id,omitempty"`
	Action       string          `json:"action,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`

	raw []byte
}

// ParseEnvelope decodes and validates one inbound frame.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.raw = frame
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validate() error {
	switch e.Type {
	case KindRegisterUsername:
		if e.Username == "" {
			return fmt.Errorf("%w: register_username requires username", ErrMalformed)
		}
	case KindChat:
		if e.Message == "" {
			return fmt.Errorf("%w: chat requires message", ErrMalformed)
		}
		if e.Timestamp == 0 {
			return fmt.Errorf("%w: chat requires timestamp", ErrMalformed)
		}
	case KindReaction:
		if e.Emoji == "" {
			return fmt.Errorf("%w: reaction requires emoji", ErrMalformed)
		}
	case KindParticipantState:
		if e.VideoEnabled == nil || e.AudioEnabled == nil {
			return fmt.Errorf("%w: participant_state requires video_enabled and audio_enabled", ErrMalformed)
		}
	case KindRecordingStatus:
		if e.Status == "" {
			return fmt.Errorf("%w: recording_status requires status", ErrMalformed)
		}
	case KindHostControl:
		if e.TargetID == "" || e.Action == "" {
			return fmt.Errorf("%w: host_control requires target_id and action", ErrMalformed)
		}
	}
	return nil
}

// Raw returns the frame exactly as the sender produced it.
func (e *Envelope) Raw() []byte { return e.raw }

// ParticipantView is the read-only registry snapshot of one participant.
type ParticipantView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsHost   bool   `json:"is_host"`
}

type welcomePayload struct {
	Type         Kind              `json:"type"`
	Participants []ParticipantView `json:"participants"`
	IsHost       bool              `json:"is_host"`
	HostID       string            `json:"host_id"`
}

type joinedNotice struct {
	Type             Kind   `json:"type"`
	ParticipantID    string `json:"participant_id"`
	Username         string `json:"username"`
	IsHost           bool   `json:"is_host"`
	ParticipantCount int    `json:"participant_count"`
	Timestamp        int64  `json:"timestamp"`
}

type leftNotice struct {
	Type             Kind   `json:"type"`
	ParticipantID    string `json:"participant_id"`
	Username         string `json:"username"`
	ParticipantCount int    `json:"participant_count"`
	Timestamp        int64  `json:"timestamp"`
}

type chatBroadcast struct {
	Type      Kind   `json:"type"`
	From      string `json:"from"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type reactionBroadcast struct {
	Type     Kind   `json:"type"`
	From     string `json:"from"`
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

type stateBroadcast struct {
	Type         Kind   `json:"type"`
	From         string `json:"from"`
	Username     string `json:"username"`
	VideoEnabled bool   `json:"video_enabled"`
	AudioEnabled bool   `json:"audio_enabled"`
}

type recordingBroadcast struct {
	Type     Kind   `json:"type"`
	From     string `json:"from"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type hostCommand struct {
	Type     Kind            `json:"type"`
	TargetID string          `json:"target_id"`
	Action   string          `json:"action"`
	Value    json.RawMessage `json:"value,omitempty"`
	From     string          `json:"from"`
	FromHost bool            `json:"from_host"`
}

type rateLimitedNotice struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All outbound payload types are plain structs; this cannot fail.
		panic(err)
	}
	return b
}
