package api

import (
	"net/http"

	"meeting-relay/internal/config"
	"meeting-relay/internal/meeting"
	"meeting-relay/internal/repository"
	"meeting-relay/pkg/metrics"

	"github.com/rs/cors"
)

// NewRouter wires up the REST API, metrics, and the signaling endpoint.
func NewRouter(cfg *config.Config, dir *meeting.Directory, rt *meeting.Router, repo repository.MeetingRepo) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/create_meeting", CreateMeetingHandler(repo))
	mux.HandleFunc("GET /api/meeting/{meeting_id}", MeetingInfoHandler(repo))
	mux.HandleFunc("GET /api/health", HealthHandler(dir))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/ws/{meeting_id}/{participant_id}", ServeWS(dir, rt, repo))

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(mux)
}
