// README: Postgres assignment store; head row guarded by version, history append-only.
package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chauffeur/internal/types"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Head(ctx context.Context, rideRequestID types.ID) (Head, error) {
	head := Head{RideRequestID: rideRequestID}
	var activeID *string
	err := s.db.QueryRow(ctx, `
		SELECT version, active_assignment_id
		FROM ride_assignment_heads
		WHERE ride_request_id = $1`, string(rideRequestID)).Scan(&head.Version, &activeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return head, nil
	}
	if err != nil {
		return Head{}, err
	}
	if activeID == nil {
		return head, nil
	}

	a, err := scanAssignment(s.db.QueryRow(ctx, `
		SELECT id, ride_request_id, driver_id, assigned_at, version, supersedes
		FROM ride_assignments
		WHERE id = $1`, *activeID))
	if err != nil {
		return Head{}, fmt.Errorf("read active assignment: %w", err)
	}
	head.Active = &a
	return head, nil
}

// CompareAndSwap advances the head and appends next in one transaction.
// A missing head row is version 0.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, rideRequestID types.ID, expected int64, next Assignment) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// History row first so the head never points at a missing assignment.
	var supersedes *string
	if next.Supersedes != nil {
		v := string(*next.Supersedes)
		supersedes = &v
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ride_assignments (id, ride_request_id, driver_id, assigned_at, version, supersedes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(next.ID),
		string(rideRequestID),
		string(next.DriverID),
		next.AssignedAt,
		expected+1,
		supersedes,
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var tag pgconn.CommandTag
	if expected == 0 {
		tag, err = tx.Exec(ctx, `
			INSERT INTO ride_assignment_heads (ride_request_id, version, active_assignment_id, updated_at)
			VALUES ($1, 1, $2, NOW())
			ON CONFLICT (ride_request_id) DO NOTHING`,
			string(rideRequestID), string(next.ID))
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE ride_assignment_heads
			SET version = version + 1,
			    active_assignment_id = $1,
			    updated_at = NOW()
			WHERE ride_request_id = $2 AND version = $3`,
			string(next.ID), string(rideRequestID), expected)
	}
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) History(ctx context.Context, rideRequestID types.ID) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_request_id, driver_id, assigned_at, version, supersedes
		FROM ride_assignments
		WHERE ride_request_id = $1
		ORDER BY version ASC`, string(rideRequestID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return linkHistory(out), nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a          Assignment
		id         string
		ride       string
		driver     string
		supersedes *string
	)
	if err := row.Scan(&id, &ride, &driver, &a.AssignedAt, &a.Version, &supersedes); err != nil {
		return Assignment{}, err
	}
	a.ID = types.ID(id)
	a.RideRequestID = types.ID(ride)
	a.DriverID = types.ID(driver)
	if supersedes != nil {
		v := types.ID(*supersedes)
		a.Supersedes = &v
	}
	a.AssignedAt = a.AssignedAt.UTC()
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
