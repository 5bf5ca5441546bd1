package models

import "time"

type Meeting struct {
	MeetingID        string    `json:"meeting_id"`
	CreatedAt        time.Time `json:"created_at"`
	ParticipantCount int       `json:"participant_count"`
}

type Participant struct {
	ID            int64     `json:"id"`
	MeetingID     string    `json:"meeting_id"`
	ParticipantID string    `json:"participant_id"`
	JoinedAt      time.Time `json:"joined_at"`
}
