// Package matching talks to the external search that proposes an item for a pool.
package matching

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"barterpool-backend/internal/domain"
	"barterpool-backend/internal/rpc"
)

const searchMethod = "/barterpool.matching.v1.MatchingService/Search"

// Client calls the matching service over gRPC.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Search returns nil without error when the service finds no candidate.
// A reply with "deferred": true means the result will arrive by callback.
func (c *Client) Search(ctx context.Context, q domain.MatchQuery) (*domain.MatchCandidate, error) {
	reply, err := rpc.Invoke(ctx, c.conn, searchMethod, map[string]any{
		"pool_id":            q.PoolID,
		"request_id":         q.RequestID,
		"target_description": q.TargetDescription,
		"offer_kind":         string(q.OfferKind),
		"min_value":          float64(q.MinValue),
		"max_value":          float64(q.MaxValue),
	})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return decodeCandidate(reply)
}

func decodeCandidate(reply *structpb.Struct) (*domain.MatchCandidate, error) {
	fields := reply.GetFields()
	if fields["deferred"].GetBoolValue() {
		return nil, domain.ErrSearchDeferred
	}
	cand := fields["candidate"].GetStructValue()
	if cand == nil {
		return nil, nil
	}
	cf := cand.GetFields()
	itemID := cf["item_id"].GetStringValue()
	if itemID == "" {
		return nil, fmt.Errorf("search reply candidate has no item_id")
	}
	return &domain.MatchCandidate{
		ItemID: itemID,
		Title:  cf["title"].GetStringValue(),
		Price:  int64(cf["price"].GetNumberValue()),
	}, nil
}

// Mock answers searches locally. With an empty catalog it proposes an item
// priced at the middle of the target window; otherwise only catalogued
// target descriptions match.
type Mock struct {
	Catalog map[string]domain.MatchCandidate
}

func NewMock() *Mock {
	return &Mock{Catalog: map[string]domain.MatchCandidate{}}
}

func (m *Mock) Search(ctx context.Context, q domain.MatchQuery) (*domain.MatchCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c, ok := m.Catalog[strings.ToLower(strings.TrimSpace(q.TargetDescription))]; ok {
		return &c, nil
	}
	if len(m.Catalog) == 0 {
		return &domain.MatchCandidate{
			ItemID: "mock-" + q.RequestID,
			Title:  q.TargetDescription,
			Price:  q.MinValue + (q.MaxValue-q.MinValue)/2,
		}, nil
	}
	return nil, nil
}
