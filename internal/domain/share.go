package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

const sharePrecision = 8

// ShareEntry is one approved participant's proportional ownership.
type ShareEntry struct {
	ParticipantID string          `json:"participant_id"`
	UserID        string          `json:"user_id"`
	CashAmount    int64           `json:"cash_amount"`
	Share         decimal.Decimal `json:"share"`
}

// ShareTable splits joint ownership by cashAmount / currentValue.
type ShareTable struct {
	PoolID  string       `json:"pool_id"`
	Total   int64        `json:"total"`
	Entries []ShareEntry `json:"entries"`
}

// NewShareTable builds the share table from the APPROVED participants.
// Shares are rounded and the last entry absorbs the rounding so they sum to one.
func NewShareTable(poolID string, participants []Participant) *ShareTable {
	table := &ShareTable{PoolID: poolID, Entries: []ShareEntry{}}
	for _, p := range participants {
		if p.Status != ParticipantStatusApproved {
			continue
		}
		table.Total += p.CashAmount
		table.Entries = append(table.Entries, ShareEntry{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			CashAmount:    p.CashAmount,
		})
	}
	if table.Total == 0 {
		return table
	}

	total := decimal.NewFromInt(table.Total)
	assigned := decimal.Zero
	for i := range table.Entries {
		if i == len(table.Entries)-1 {
			table.Entries[i].Share = decimal.NewFromInt(1).Sub(assigned)
			break
		}
		share := decimal.NewFromInt(table.Entries[i].CashAmount).DivRound(total, sharePrecision)
		table.Entries[i].Share = share
		assigned = assigned.Add(share)
	}
	return table
}

// Allocate splits amount across the entries in proportion to their
// contributions using the largest remainder method, so the parts add up to amount exactly.
func (t *ShareTable) Allocate(amount int64) []int64 {
	parts := make([]int64, len(t.Entries))
	if t.Total == 0 || len(t.Entries) == 0 {
		return parts
	}

	type remainder struct {
		idx int
		rem decimal.Decimal
	}
	total := decimal.NewFromInt(t.Total)
	amt := decimal.NewFromInt(amount)
	rems := make([]remainder, len(t.Entries))
	var allocated int64
	for i, e := range t.Entries {
		exact := amt.Mul(decimal.NewFromInt(e.CashAmount)).Div(total)
		floor := exact.Floor()
		parts[i] = floor.IntPart()
		allocated += parts[i]
		rems[i] = remainder{idx: i, rem: exact.Sub(floor)}
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].rem.GreaterThan(rems[b].rem)
	})
	for i := int64(0); i < amount-allocated; i++ {
		parts[rems[int(i)%len(rems)].idx]++
	}
	return parts
}

// PaymentLines renders the allocation of amount as payment lines.
func (t *ShareTable) PaymentLines(amount int64) []PaymentLine {
	parts := t.Allocate(amount)
	lines := make([]PaymentLine, len(t.Entries))
	for i, e := range t.Entries {
		lines[i] = PaymentLine{
			ParticipantID: e.ParticipantID,
			UserID:        e.UserID,
			Amount:        parts[i],
			Share:         e.Share.String(),
		}
	}
	return lines
}
