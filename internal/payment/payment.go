// Package payment talks to the collaborator that holds, refunds and settles
// contributions.
package payment

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/rpc"
)

const servicePrefix = "/barterpool.payment.v1.PaymentService/"

// Client calls the payment service over gRPC. Every request carries the
// instruction id as idempotency key; AlreadyExists means it was applied before.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Hold(ctx context.Context, key, poolID string, line domain.PaymentLine) error {
	return c.call(ctx, "Hold", key, poolID, []domain.PaymentLine{line})
}

func (c *Client) Refund(ctx context.Context, key, poolID string, line domain.PaymentLine) error {
	return c.call(ctx, "Refund", key, poolID, []domain.PaymentLine{line})
}

func (c *Client) Release(ctx context.Context, key, poolID string, lines []domain.PaymentLine) error {
	return c.call(ctx, "Release", key, poolID, lines)
}

func (c *Client) Settle(ctx context.Context, key, poolID string, lines []domain.PaymentLine) error {
	return c.call(ctx, "Settle", key, poolID, lines)
}

func (c *Client) call(ctx context.Context, method, key, poolID string, lines []domain.PaymentLine) error {
	encoded := make([]any, len(lines))
	for i, l := range lines {
		encoded[i] = map[string]any{
			"participant_id": l.ParticipantID,
			"user_id":        l.UserID,
			"amount":         float64(l.Amount),
			"share":          l.Share,
		}
	}
	_, err := rpc.Invoke(ctx, c.conn, servicePrefix+method, map[string]any{
		"idempotency_key": key,
		"pool_id":         poolID,
		"lines":           encoded,
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// LoggingGateway accepts every instruction and only logs it. It stands in
// for the payment service in development.
type LoggingGateway struct{}

func (LoggingGateway) Hold(ctx context.Context, key, poolID string, line domain.PaymentLine) error {
	logger.Info("Mock payment hold", "key", key, "pool_id", poolID, "participant_id", line.ParticipantID, "amount", line.Amount)
	return nil
}

func (LoggingGateway) Refund(ctx context.Context, key, poolID string, line domain.PaymentLine) error {
	logger.Info("Mock payment refund", "key", key, "pool_id", poolID, "participant_id", line.ParticipantID, "amount", line.Amount)
	return nil
}

func (LoggingGateway) Release(ctx context.Context, key, poolID string, lines []domain.PaymentLine) error {
	logger.Info("Mock payment release", "key", key, "pool_id", poolID, "lines", len(lines), "total", total(lines))
	return nil
}

func (LoggingGateway) Settle(ctx context.Context, key, poolID string, lines []domain.PaymentLine) error {
	logger.Info("Mock payment settle", "key", key, "pool_id", poolID, "lines", len(lines), "total", total(lines))
	return nil
}

func total(lines []domain.PaymentLine) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.Amount
	}
	return sum
}
