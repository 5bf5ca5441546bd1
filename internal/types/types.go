package types

type CreateMeetingResponse struct {
	MeetingID string `json:"meeting_id"`
	Status    string `json:"status"`
}

type MeetingInfoResponse struct {
	MeetingID        string   `json:"meeting_id"`
	ParticipantCount int      `json:"participant_count"`
	Participants     []string `json:"participants"`
}

type HealthResponse struct {
	Status            string `json:"status"`
	ActiveMeetings    int    `json:"active_meetings"`
	TotalParticipants int    `json:"total_participants"`
}
