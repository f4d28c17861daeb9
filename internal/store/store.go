package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetClientByID retrieves a client by ID. Returns (nil, nil) when the client
// does not exist so callers can map it to their own taxonomy.
func (s *Store) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, "SELECT * FROM clients WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetStorefrontItemByID retrieves a storefront package by ID.
// Returns (nil, nil) when the item does not exist.
func (s *Store) GetStorefrontItemByID(ctx context.Context, id int64) (*models.StorefrontItem, error) {
	var item models.StorefrontItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM storefront_items WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// IsTrainerAssigned reports whether a client is assigned to a trainer.
// Trainer-scoped grants must not reach across that boundary.
func (s *Store) IsTrainerAssigned(ctx context.Context, trainerID, clientID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM trainer_assignments WHERE trainer_id = $1 AND client_id = $2)",
		trainerID, clientID)
	return exists, err
}

// ListClientsNeedingPayment returns zero-balance clients who still have
// future booked sessions, ordered by their next session date. This drives
// the manual-recovery worklist.
func (s *Store) ListClientsNeedingPayment(ctx context.Context, now time.Time) ([]models.ClientNeedingPayment, error) {
	query := `
		SELECT c.id AS client_id,
		       c.first_name || ' ' || c.last_name AS name,
		       c.email,
		       c.phone,
		       c.session_credits AS balance,
		       COUNT(s.id) AS upcoming_sessions,
		       MIN(s.session_date) AS next_session
		FROM clients c
		JOIN sessions s ON s.client_id = c.id
		WHERE c.role IN ($1, $2)
		  AND c.session_credits <= 0
		  AND s.status IN ($3, $4)
		  AND s.session_date >= $5
		GROUP BY c.id
		ORDER BY next_session ASC`

	clients := []models.ClientNeedingPayment{}
	err := s.db.SelectContext(ctx, &clients, query,
		models.RoleClient, models.RoleUser,
		models.SessionStatusScheduled, models.SessionStatusConfirmed, now)
	return clients, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
