package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/repository"
)

const poolColumns = `id, creator_id, title, description, target_description, offer_kind,
	target_min_value, target_max_value, current_value, min_participants, max_participants,
	deadline, status, match_in_flight, match_request_id, matched_item_id, matched_title,
	matched_price, confirmations, failure_reason, created_at, updated_at, closed_at, match_started_at`

type poolRepository struct {
	db *sql.DB
}

func NewPoolRepository(db *sql.DB) repository.PoolRepository {
	return &poolRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*domain.Pool, error) {
	var (
		p        domain.Pool
		closedAt sql.NullTime
		started  sql.NullTime
		confirms pq.StringArray
	)
	err := row.Scan(&p.ID, &p.CreatorID, &p.Title, &p.Description, &p.TargetDescription, &p.OfferKind,
		&p.TargetMinValue, &p.TargetMaxValue, &p.CurrentValue, &p.MinParticipants, &p.MaxParticipants,
		&p.Deadline, &p.Status, &p.MatchInFlight, &p.MatchRequestID, &p.MatchedItemID, &p.MatchedTitle,
		&p.MatchedPrice, &confirms, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &closedAt, &started)
	if err != nil {
		return nil, err
	}
	p.Confirmations = []string(confirms)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	if started.Valid {
		t := started.Time
		p.MatchStartedAt = &t
	}
	return &p, nil
}

func (r *poolRepository) Create(ctx context.Context, p *domain.Pool) error {
	query := `INSERT INTO pools (` + poolColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
	logger.DatabaseCall("INSERT", "pools", "poolID", p.ID)
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.ID, p.CreatorID, p.Title, p.Description, p.TargetDescription, p.OfferKind,
		p.TargetMinValue, p.TargetMaxValue, p.CurrentValue, p.MinParticipants, p.MaxParticipants,
		p.Deadline, p.Status, p.MatchInFlight, p.MatchRequestID, p.MatchedItemID, p.MatchedTitle,
		p.MatchedPrice, pq.Array(p.Confirmations), p.FailureReason, p.CreatedAt, p.UpdatedAt, p.ClosedAt, p.MatchStartedAt)
	logger.DatabaseResult("INSERT", rowsAffected(res), err, "poolID", p.ID)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	return nil
}

func (r *poolRepository) GetByID(ctx context.Context, id string) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE id = $1`
	p, err := scanPool(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

func (r *poolRepository) GetForUpdate(ctx context.Context, id string) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE id = $1 FOR UPDATE`
	logger.DatabaseCall("SELECT FOR UPDATE", "pools", "poolID", id)
	p, err := scanPool(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock pool: %w", err)
	}
	return p, nil
}

func (r *poolRepository) Update(ctx context.Context, p *domain.Pool) error {
	query := `UPDATE pools SET current_value = $1, status = $2, match_in_flight = $3, match_request_id = $4,
	          matched_item_id = $5, matched_title = $6, matched_price = $7, confirmations = $8,
	          failure_reason = $9, updated_at = $10, closed_at = $11, match_started_at = $12
	          WHERE id = $13`
	logger.DatabaseCall("UPDATE", "pools", "poolID", p.ID, "status", p.Status)
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.CurrentValue, p.Status, p.MatchInFlight, p.MatchRequestID,
		p.MatchedItemID, p.MatchedTitle, p.MatchedPrice, pq.Array(p.Confirmations),
		p.FailureReason, p.UpdatedAt, p.ClosedAt, p.MatchStartedAt, p.ID)
	n := rowsAffected(res)
	logger.DatabaseResult("UPDATE", n, err, "poolID", p.ID)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pool %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *poolRepository) List(ctx context.Context, status domain.PoolStatus, page, pageSize int32) ([]domain.Pool, int32, error) {
	offset := (page - 1) * pageSize
	db := conn(ctx, r.db)

	var count int32
	countQuery := `SELECT count(*) FROM pools WHERE ($1 = '' OR status = $1)`
	if err := db.QueryRowContext(ctx, countQuery, status).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count pools: %w", err)
	}

	query := `SELECT ` + poolColumns + ` FROM pools WHERE ($1 = '' OR status = $1)
	          ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, count, nil
}

func (r *poolRepository) ListExpiredOpen(ctx context.Context, now time.Time) ([]string, error) {
	query := `SELECT id FROM pools WHERE status = $1 AND deadline < $2 ORDER BY deadline`
	ids, err := r.listIDs(ctx, query, domain.PoolStatusOpen, now)
	if err != nil {
		return nil, fmt.Errorf("list expired pools: %w", err)
	}
	return ids, nil
}

func (r *poolRepository) ListStalledMatching(ctx context.Context, startedBefore time.Time) ([]string, error) {
	query := `SELECT id FROM pools WHERE status = $1 AND COALESCE(match_started_at, updated_at) < $2
	          ORDER BY COALESCE(match_started_at, updated_at)`
	ids, err := r.listIDs(ctx, query, domain.PoolStatusMatching, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stalled pools: %w", err)
	}
	return ids, nil
}

func (r *poolRepository) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return n
}
