package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"barterpool-backend/internal/domain"
)

type fakeConn struct {
	calls []string
	last  *structpb.Struct
	err   error
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	f.calls = append(f.calls, method)
	f.last = args.(*structpb.Struct)
	return f.err
}

func (f *fakeConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	lines := []domain.PaymentLine{
		{ParticipantID: "pa-1", UserID: "u-1", Amount: 6000, Share: "0.5"},
		{ParticipantID: "pa-2", UserID: "u-2", Amount: 6000, Share: "0.5"},
	}

	t.Run("Settle encodes lines and key", func(t *testing.T) {
		conn := &fakeConn{}
		require.NoError(t, NewClient(conn).Settle(ctx, "ins-1", "p-1", lines))
		assert.Equal(t, []string{servicePrefix + "Settle"}, conn.calls)

		fields := conn.last.GetFields()
		assert.Equal(t, "ins-1", fields["idempotency_key"].GetStringValue())
		encoded := fields["lines"].GetListValue().GetValues()
		require.Len(t, encoded, 2)
		assert.Equal(t, 6000.0, encoded[1].GetStructValue().GetFields()["amount"].GetNumberValue())
	})

	t.Run("Already applied counts as success", func(t *testing.T) {
		conn := &fakeConn{err: status.Error(codes.AlreadyExists, "duplicate")}
		assert.NoError(t, NewClient(conn).Hold(ctx, "ins-2", "p-1", lines[0]))
	})

	t.Run("Failure is returned", func(t *testing.T) {
		conn := &fakeConn{err: status.Error(codes.Unavailable, "down")}
		assert.Error(t, NewClient(conn).Release(ctx, "ins-3", "p-1", lines))
	})
}
