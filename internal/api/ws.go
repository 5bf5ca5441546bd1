package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"meeting-relay/internal/meeting"
	"meeting-relay/internal/middleware"
	"meeting-relay/internal/repository"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and runs the full session lifecycle:
// persist → join (welcome goes out first) → pumps → guaranteed teardown.
// The handler returns only when the session is over.
func ServeWS(dir *meeting.Directory, router *meeting.Router, repo repository.MeetingRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("meeting_id")
		participantID := r.PathValue("participant_id")
		if meetingID == "" || participantID == "" {
			http.Error(w, "meeting_id and participant_id are required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[SESSION] Upgrade error: %v", err)
			return
		}

		log.Printf("[SESSION] Participant %s connecting to meeting %s", participantID, meetingID)

		// Durable bookkeeping first. Failures are logged and never keep the
		// participant out of the live meeting.
		persistJoin(repo, meetingID, participantID)

		limiter := middleware.NewRatelimiter(5, 100*time.Millisecond)
		client := meeting.NewClient(conn, meetingID, participantID, router, limiter)

		result := dir.Join(meetingID, participantID, client)
		log.Printf("[SESSION] Participant %s registered in meeting %s (host=%v)",
			participantID, meetingID, result.IsHost)

		// Teardown runs on every exit path, including panics in routing.
		defer func() {
			if res, ok := dir.Leave(meetingID, participantID); ok {
				router.BroadcastDeparture(context.Background(), meetingID, participantID, res)
			}
			persistLeave(repo, meetingID, participantID)
			log.Printf("[SESSION] Participant %s disconnected from meeting %s", participantID, meetingID)
		}()

		go client.WritePump()
		client.ReadPump(context.Background())
	}
}

func persistJoin(repo repository.MeetingRepo, meetingID, participantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := repo.MeetingExists(ctx, meetingID)
	if err != nil {
		log.Printf("[SESSION] Meeting existence check failed for %s: %v", meetingID, err)
	}
	if err == nil && !exists {
		if _, err := repo.CreateMeeting(ctx, meetingID); err != nil {
			log.Printf("[SESSION] Meeting record creation failed for %s: %v", meetingID, err)
		}
	}
	if _, err := repo.AddParticipant(ctx, meetingID, participantID); err != nil {
		log.Printf("[SESSION] Participant record creation failed for %s/%s: %v", meetingID, participantID, err)
	}
}

func persistLeave(repo repository.MeetingRepo, meetingID, participantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := repo.RemoveParticipant(ctx, meetingID, participantID); err != nil {
		log.Printf("[SESSION] Participant record removal failed for %s/%s: %v", meetingID, participantID, err)
	}
}
