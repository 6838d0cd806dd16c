package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/repository"
)

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Append(ctx context.Context, e *domain.LedgerEntry) error {
	query := `INSERT INTO pool_ledger_entries (id, pool_id, participant_id, kind, amount, delta, total, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	logger.DatabaseCall("INSERT", "pool_ledger_entries", "poolID", e.PoolID, "kind", e.Kind)
	res, err := conn(ctx, r.db).ExecContext(ctx, query, e.ID, e.PoolID, e.ParticipantID, e.Kind, e.Amount, e.Delta, e.Total, e.CreatedAt)
	logger.DatabaseResult("INSERT", rowsAffected(res), err, "entryID", e.ID)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerRepository) ListByPool(ctx context.Context, poolID string) ([]domain.LedgerEntry, error) {
	query := `SELECT id, pool_id, participant_id, kind, amount, delta, total, created_at
	          FROM pool_ledger_entries WHERE pool_id = $1 ORDER BY created_at, id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PoolID, &e.ParticipantID, &e.Kind, &e.Amount, &e.Delta, &e.Total, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
