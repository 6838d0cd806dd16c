package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/repository"
)

const instructionColumns = `id, pool_id, kind, dedup_key, lines, status, attempts, last_error, created_at, updated_at`

type paymentInstructionRepository struct {
	db *sql.DB
}

func NewPaymentInstructionRepository(db *sql.DB) repository.PaymentInstructionRepository {
	return &paymentInstructionRepository{db: db}
}

func scanInstruction(row rowScanner) (*domain.PaymentInstruction, error) {
	var (
		in    domain.PaymentInstruction
		lines []byte
	)
	if err := row.Scan(&in.ID, &in.PoolID, &in.Kind, &in.DedupKey, &lines, &in.Status, &in.Attempts, &in.LastError, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &in.Lines); err != nil {
		return nil, fmt.Errorf("decode instruction lines: %w", err)
	}
	return &in, nil
}

func (r *paymentInstructionRepository) Enqueue(ctx context.Context, in *domain.PaymentInstruction) error {
	lines, err := json.Marshal(in.Lines)
	if err != nil {
		return fmt.Errorf("encode instruction lines: %w", err)
	}

	query := `INSERT INTO payment_instructions (` + instructionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (dedup_key) DO NOTHING`
	logger.DatabaseCall("INSERT", "payment_instructions", "poolID", in.PoolID, "kind", in.Kind)
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		in.ID, in.PoolID, in.Kind, in.DedupKey, lines, in.Status, in.Attempts, in.LastError, in.CreatedAt, in.UpdatedAt)
	n := rowsAffected(res)
	logger.DatabaseResult("INSERT", n, err, "instructionID", in.ID)
	if err != nil {
		return fmt.Errorf("enqueue payment instruction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", in.DedupKey, domain.ErrDuplicateInstruction)
	}
	return nil
}

func (r *paymentInstructionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentInstruction, error) {
	query := `SELECT ` + instructionColumns + ` FROM payment_instructions WHERE id = $1`
	in, err := scanInstruction(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment instruction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment instruction: %w", err)
	}
	return in, nil
}

func (r *paymentInstructionRepository) Claim(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	query := `UPDATE payment_instructions SET status = $1, updated_at = $2
	          WHERE id = $3 AND (status = $4 OR (status = $1 AND updated_at < $5))`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		domain.PaymentInstructionInFlight, now, id, domain.PaymentInstructionPending, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim payment instruction: %w", err)
	}
	return rowsAffected(res) == 1, nil
}

func (r *paymentInstructionRepository) ListPending(ctx context.Context, limit int, staleBefore time.Time) ([]domain.PaymentInstruction, error) {
	query := `SELECT ` + instructionColumns + ` FROM payment_instructions
	          WHERE status = $1 OR (status = $2 AND updated_at < $3)
	          ORDER BY created_at, id LIMIT $4`
	return r.list(ctx, query, domain.PaymentInstructionPending, domain.PaymentInstructionInFlight, staleBefore, limit)
}

func (r *paymentInstructionRepository) ListByPool(ctx context.Context, poolID string) ([]domain.PaymentInstruction, error) {
	query := `SELECT ` + instructionColumns + ` FROM payment_instructions WHERE pool_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, poolID)
}

func (r *paymentInstructionRepository) list(ctx context.Context, query string, args ...any) ([]domain.PaymentInstruction, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment instructions: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentInstruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment instruction: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment instructions: %w", err)
	}
	return out, nil
}

func (r *paymentInstructionRepository) Update(ctx context.Context, in *domain.PaymentInstruction) error {
	query := `UPDATE payment_instructions SET status = $1, attempts = $2, last_error = $3, updated_at = $4
	          WHERE id = $5 AND status <> $6`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		in.Status, in.Attempts, in.LastError, in.UpdatedAt, in.ID, domain.PaymentInstructionCancelled)
	if err != nil {
		return fmt.Errorf("update payment instruction: %w", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("payment instruction %s: %w", in.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *paymentInstructionRepository) CancelPending(ctx context.Context, dedupKeys []string, now time.Time) (int64, error) {
	if len(dedupKeys) == 0 {
		return 0, nil
	}
	query := `UPDATE payment_instructions SET status = $1, updated_at = $2
	          WHERE dedup_key = ANY($3) AND status IN ($4, $5)`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, domain.PaymentInstructionCancelled, now,
		pq.Array(dedupKeys), domain.PaymentInstructionPending, domain.PaymentInstructionInFlight)
	if err != nil {
		return 0, fmt.Errorf("cancel payment instructions: %w", err)
	}
	return rowsAffected(res), nil
}
