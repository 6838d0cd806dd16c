package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/repository"
)

const participantColumns = `id, pool_id, user_id, status, cash_amount, approved_at, released, created_at, updated_at`

type participantRepository struct {
	db *sql.DB
}

func NewParticipantRepository(db *sql.DB) repository.ParticipantRepository {
	return &participantRepository{db: db}
}

func scanParticipant(row rowScanner) (*domain.Participant, error) {
	var (
		p          domain.Participant
		approvedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.PoolID, &p.UserID, &p.Status, &p.CashAmount, &approvedAt, &p.Released, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		p.ApprovedAt = &t
	}
	return &p, nil
}

func (r *participantRepository) Create(ctx context.Context, p *domain.Participant) error {
	query := `INSERT INTO pool_participants (` + participantColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	logger.DatabaseCall("INSERT", "pool_participants", "poolID", p.PoolID, "userID", p.UserID)
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.ID, p.PoolID, p.UserID, p.Status, p.CashAmount, p.ApprovedAt, p.Released, p.CreatedAt, p.UpdatedAt)
	logger.DatabaseResult("INSERT", rowsAffected(res), err, "participantID", p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s in pool %s: %w", p.UserID, p.PoolID, domain.ErrDuplicateParticipant)
	}
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (r *participantRepository) GetByID(ctx context.Context, id string) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM pool_participants WHERE id = $1`
	p, err := scanParticipant(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (r *participantRepository) Update(ctx context.Context, p *domain.Participant) error {
	query := `UPDATE pool_participants SET status = $1, cash_amount = $2, approved_at = $3, released = $4, updated_at = $5
	          WHERE id = $6`
	logger.DatabaseCall("UPDATE", "pool_participants", "participantID", p.ID, "status", p.Status)
	res, err := conn(ctx, r.db).ExecContext(ctx, query, p.Status, p.CashAmount, p.ApprovedAt, p.Released, p.UpdatedAt, p.ID)
	n := rowsAffected(res)
	logger.DatabaseResult("UPDATE", n, err, "participantID", p.ID)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *participantRepository) ListByPool(ctx context.Context, poolID string) ([]domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM pool_participants WHERE pool_id = $1 ORDER BY created_at, id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}
