package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approved(id string, amount int64) Participant {
	return Participant{ID: id, UserID: "u-" + id, Status: ParticipantStatusApproved, CashAmount: amount}
}

func TestNewShareTable(t *testing.T) {
	participants := []Participant{
		approved("a", 1000),
		approved("b", 1000),
		approved("c", 1000),
		{ID: "d", Status: ParticipantStatusPending, CashAmount: 5000},
		{ID: "e", Status: ParticipantStatusWithdrawn, CashAmount: 5000},
	}

	table := NewShareTable("pool", participants)
	assert.Equal(t, int64(3000), table.Total)
	require.Len(t, table.Entries, 3)

	sum := decimal.Zero
	for _, e := range table.Entries {
		sum = sum.Add(e.Share)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(1)), sum.String())
	assert.Equal(t, "0.33333333", table.Entries[0].Share.String())
	assert.Equal(t, "0.33333334", table.Entries[2].Share.String())
}

func TestNewShareTable_Empty(t *testing.T) {
	table := NewShareTable("pool", nil)
	assert.Zero(t, table.Total)
	assert.Empty(t, table.Entries)
	assert.NotNil(t, table.Entries)
	assert.Empty(t, table.PaymentLines(1000))
}

func TestShareTable_Allocate(t *testing.T) {
	tests := []struct {
		name    string
		amounts []int64
		price   int64
		want    []int64
	}{
		{"Even", []int64{4000, 4000, 4000}, 12000, []int64{4000, 4000, 4000}},
		{"Proportional", []int64{1000, 3000}, 10000, []int64{2500, 7500}},
		{"RemainderToLargestFraction", []int64{1, 1, 1}, 100, []int64{34, 33, 33}},
		{"Uneven", []int64{5000, 3000, 2000}, 9999, []int64{4999, 3000, 2000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ps []Participant
			for i, a := range tt.amounts {
				ps = append(ps, approved(string(rune('a'+i)), a))
			}
			parts := NewShareTable("pool", ps).Allocate(tt.price)
			assert.Equal(t, tt.want, parts)

			var sum int64
			for _, p := range parts {
				sum += p
			}
			assert.Equal(t, tt.price, sum)
		})
	}
}

func TestShareTable_PaymentLines(t *testing.T) {
	table := NewShareTable("pool", []Participant{approved("a", 1000), approved("b", 3000)})
	lines := table.PaymentLines(8000)
	require.Len(t, lines, 2)
	assert.Equal(t, PaymentLine{ParticipantID: "a", UserID: "u-a", Amount: 2000, Share: "0.25"}, lines[0])
	assert.Equal(t, PaymentLine{ParticipantID: "b", UserID: "u-b", Amount: 6000, Share: "0.75"}, lines[1])

	in := PaymentInstruction{Lines: lines}
	assert.Equal(t, int64(8000), in.Total())
}

func TestParticipantAggregates(t *testing.T) {
	ps := []Participant{
		approved("a", 1000),
		approved("b", 2500),
		{ID: "c", Status: ParticipantStatusRejected, CashAmount: 9000},
	}
	assert.Equal(t, int32(2), CountApproved(ps))
	assert.Equal(t, int64(3500), SumApproved(ps))
	assert.True(t, ParticipantStatusPending.IsLive())
	assert.False(t, ParticipantStatusRejected.IsLive())
}
