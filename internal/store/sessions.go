package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/models"
)

const (
	noteAutoDeducted  = "[auto] session credit deducted"
	noteAutoNoCredits = "[auto] session completed - no credits to deduct"
	noteAutoOrphan    = "[auto] session completed - no client found"
)

// ListDueSessions returns one bounded page of sessions eligible for
// deduction: in the past, booked (scheduled/confirmed), not yet deducted.
// Ordered by client then id so a page groups a client's sessions together.
func (s *Store) ListDueSessions(ctx context.Context, now time.Time, limit int) ([]models.DueSession, error) {
	sessions := []models.DueSession{}
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT id AS session_id, client_id
		FROM sessions
		WHERE status IN ($1, $2)
		  AND session_date < $3
		  AND credit_deducted = FALSE
		ORDER BY client_id NULLS FIRST, id
		LIMIT $4`,
		models.SessionStatusScheduled, models.SessionStatusConfirmed, now, limit)
	return sessions, err
}

// DeductForClient completes one client's due sessions in a single
// transaction. The client's balance row is locked, each session is claimed
// with a conditional update keyed on credit_deducted = FALSE, and the balance
// is decremented only by the number of sessions actually claimed with credit,
// so the balance can never go negative and a concurrent run can never deduct
// the same session twice.
func (s *Store) DeductForClient(ctx context.Context, clientID int64, sessionIDs []int64, now time.Time) (*models.ClientDeduction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var credits int
	err = tx.GetContext(ctx, &credits,
		"SELECT session_credits FROM clients WHERE id = $1 FOR UPDATE", clientID)
	if err == sql.ErrNoRows {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock client row: %w", err)
	}

	result := &models.ClientDeduction{}
	for _, sessionID := range sessionIDs {
		deduct := credits-result.Deducted > 0
		note := noteAutoNoCredits
		if deduct {
			note = noteAutoDeducted
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = $1,
			    credit_deducted = $2,
			    deduction_date = CASE WHEN $2 THEN $3 ELSE deduction_date END,
			    notes = CASE WHEN notes = '' THEN $4 ELSE notes || E'\n' || $4 END,
			    updated_at = NOW()
			WHERE id = $5 AND credit_deducted = FALSE AND status IN ($6, $7)`,
			models.SessionStatusCompleted, deduct, now, note, sessionID,
			models.SessionStatusScheduled, models.SessionStatusConfirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to complete session %d: %w", sessionID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			// Claimed by a concurrent run; skip.
			continue
		}

		result.Completed++
		if deduct {
			result.Deducted++
		} else {
			result.NoCredit = append(result.NoCredit, sessionID)
		}
	}

	if result.Deducted > 0 {
		_, err = tx.ExecContext(ctx,
			"UPDATE clients SET session_credits = session_credits - $1, updated_at = NOW() WHERE id = $2",
			result.Deducted, clientID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement session credits: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteOrphanSession closes out a due session whose client no longer
// exists. No deduction is possible; the session is annotated and completed so
// the scan stops picking it up.
func (s *Store) CompleteOrphanSession(ctx context.Context, sessionID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1,
		    notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = NOW()
		WHERE id = $3 AND credit_deducted = FALSE`,
		models.SessionStatusCompleted, noteAutoOrphan, sessionID)
	return err
}

// GetSessionByID retrieves a session by ID
func (s *Store) GetSessionByID(ctx context.Context, id int64) (*models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session, "SELECT * FROM sessions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
