package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"meeting-relay/internal/meeting"
	"meeting-relay/internal/repository"
	"meeting-relay/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateMeetingHandler mints a short shareable meeting ID and records it.
func CreateMeetingHandler(repo repository.MeetingRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// Short ID for easier sharing.
		meetingID := uuid.New().String()[:8]

		created, err := repo.CreateMeeting(dbctx, meetingID)
		if err != nil || !created {
			log.Printf("[API] Meeting creation failed for %s: %v", meetingID, err)
			http.Error(w, "Failed to create meeting", http.StatusInternalServerError)
			return
		}

		log.Printf("[API] Created meeting: %s", meetingID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.CreateMeetingResponse{
			MeetingID: meetingID,
			Status:    "created",
		})
	}
}

// MeetingInfoHandler reports the persisted view of a meeting.
func MeetingInfoHandler(repo repository.MeetingRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("meeting_id")

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		m, err := repo.GetMeeting(dbctx, meetingID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "Meeting not found", http.StatusNotFound)
				return
			}
			log.Printf("[API] Meeting lookup failed for %s: %v", meetingID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		participants, err := repo.ListParticipants(dbctx, meetingID)
		if err != nil {
			log.Printf("[API] Participant list failed for %s: %v", meetingID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if participants == nil {
			participants = []string{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.MeetingInfoResponse{
			MeetingID:        m.MeetingID,
			ParticipantCount: m.ParticipantCount,
			Participants:     participants,
		})
	}
}

// HealthHandler reports liveness from the in-memory directory.
func HealthHandler(dir *meeting.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, participants := dir.Stats()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.HealthResponse{
			Status:            "healthy",
			ActiveMeetings:    rooms,
			TotalParticipants: participants,
		})
	}
}
