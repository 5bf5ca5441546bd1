package tasks

import (
	"context"
	"log"
	"time"

	"meeting-relay/internal/repository"

	"github.com/robfig/cron/v3"
)

// Persisted meetings outlive their live rooms; anything older than this
// is history the record store no longer needs.
const staleAfter = 24 * time.Hour

type MeetingCleaner struct {
	repo *repository.PostgresMeetingRepo
}

func NewMeetingCleaner(repo *repository.PostgresMeetingRepo) *MeetingCleaner {
	return &MeetingCleaner{
		repo: repo,
	}
}

func (m *MeetingCleaner) Start() {
	c := cron.New()

	_, err := c.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		err := m.repo.DeleteStaleMeetings(ctx, staleAfter)
		if err != nil {
			log.Printf("[WORKER] Meeting cleanup failed: %v", err)
			return
		}
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling cron: %v", err)
		return
	}

	c.Start()
}
