package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"meeting-relay/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MeetingRepo is the persistence adapter for meetings and participant
// counts. It is durable bookkeeping only: the live registry never blocks
// on it, and duplicate add/remove calls are safe.
type MeetingRepo interface {
	CreateMeeting(ctx context.Context, meetingID string) (bool, error)
	MeetingExists(ctx context.Context, meetingID string) (bool, error)
	GetMeeting(ctx context.Context, meetingID string) (*models.Meeting, error)
	AddParticipant(ctx context.Context, meetingID, participantID string) (bool, error)
	RemoveParticipant(ctx context.Context, meetingID, participantID string) (bool, error)
	ParticipantCount(ctx context.Context, meetingID string) (int, error)
	ListParticipants(ctx context.Context, meetingID string) ([]string, error)
	DeleteStaleMeetings(ctx context.Context, olderThan time.Duration) error
}

type PostgresMeetingRepo struct {
	pool *pgxpool.Pool
}

func NewMeetingRepo(pool *pgxpool.Pool) *PostgresMeetingRepo {
	return &PostgresMeetingRepo{pool: pool}
}

func (r *PostgresMeetingRepo) CreateMeeting(ctx context.Context, meetingID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO meetings (meeting_id) VALUES ($1) ON CONFLICT (meeting_id) DO NOTHING`,
		meetingID,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to create meeting %s: %v", meetingID, err)
		return false, fmt.Errorf("create meeting: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresMeetingRepo) MeetingExists(ctx context.Context, meetingID string) (bool, error) {
	var one int
	err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM meetings WHERE meeting_id = $1`, meetingID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		log.Printf("[REPO ERROR] Existence check failed for meeting %s: %v", meetingID, err)
		return false, fmt.Errorf("meeting exists: %w", err)
	}
	return true, nil
}

func (r *PostgresMeetingRepo) GetMeeting(ctx context.Context, meetingID string) (*models.Meeting, error) {
	m := &models.Meeting{}
	err := r.pool.QueryRow(ctx,
		`SELECT meeting_id, created_at, participant_count FROM meetings WHERE meeting_id = $1`,
		meetingID,
	).Scan(&m.MeetingID, &m.CreatedAt, &m.ParticipantCount)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("[REPO ERROR] Fetch failed for meeting %s: %v", meetingID, err)
		}
		return nil, err
	}
	return m, nil
}

func (r *PostgresMeetingRepo) AddParticipant(ctx context.Context, meetingID, participantID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO participants (meeting_id, participant_id) VALUES ($1, $2)
		 ON CONFLICT (meeting_id, participant_id) DO NOTHING`,
		meetingID, participantID,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to add participant %s to %s: %v", participantID, meetingID, err)
		return false, fmt.Errorf("add participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE meetings SET participant_count = participant_count + 1 WHERE meeting_id = $1`,
		meetingID,
	); err != nil {
		log.Printf("[REPO ERROR] Count bump failed for meeting %s: %v", meetingID, err)
		return true, fmt.Errorf("bump participant count: %w", err)
	}
	return true, nil
}

func (r *PostgresMeetingRepo) RemoveParticipant(ctx context.Context, meetingID, participantID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM participants WHERE meeting_id = $1 AND participant_id = $2`,
		meetingID, participantID,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to remove participant %s from %s: %v", participantID, meetingID, err)
		return false, fmt.Errorf("remove participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE meetings SET participant_count = participant_count - 1
		 WHERE meeting_id = $1 AND participant_count > 0`,
		meetingID,
	); err != nil {
		log.Printf("[REPO ERROR] Count drop failed for meeting %s: %v", meetingID, err)
		return true, fmt.Errorf("drop participant count: %w", err)
	}
	return true, nil
}

func (r *PostgresMeetingRepo) ParticipantCount(ctx context.Context, meetingID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT participant_count FROM meetings WHERE meeting_id = $1`, meetingID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		log.Printf("[REPO ERROR] Count lookup failed for meeting %s: %v", meetingID, err)
		return 0, fmt.Errorf("participant count: %w", err)
	}
	return count, nil
}

func (r *PostgresMeetingRepo) ListParticipants(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant_id FROM participants WHERE meeting_id = $1 ORDER BY joined_at`,
		meetingID,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Participant list failed for meeting %s: %v", meetingID, err)
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteStaleMeetings purges meetings (and their participant rows) whose
// record outlived olderThan. Live connections are unaffected; this only
// trims the durable bookkeeping.
func (r *PostgresMeetingRepo) DeleteStaleMeetings(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	if _, err := r.pool.Exec(ctx,
		`DELETE FROM participants WHERE meeting_id IN
		   (SELECT meeting_id FROM meetings WHERE created_at < $1)`,
		cutoff,
	); err != nil {
		log.Printf("[REPO ERROR] Stale participant purge failed: %v", err)
		return fmt.Errorf("purge stale participants: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM meetings WHERE created_at < $1`, cutoff)
	if err != nil {
		log.Printf("[REPO ERROR] Stale meeting purge failed: %v", err)
		return fmt.Errorf("purge stale meetings: %w", err)
	}
	if tag.RowsAffected() > 0 {
		log.Printf("[REPO] Purged %d stale meetings", tag.RowsAffected())
	}
	return nil
}
