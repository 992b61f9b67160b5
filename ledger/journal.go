package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind classifies journal entries.
type EntryKind string

const (
	KindDeposit    EntryKind = "deposit"
	KindWithdrawal EntryKind = "withdrawal"
	KindTrade      EntryKind = "trade"
	KindFee        EntryKind = "fee"
	KindTransfer   EntryKind = "transfer"
)

// EntryStatus tracks an entry's lifecycle. Freezes are recorded pending and
// resolved by the completed settlement or release entries that follow.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
	StatusCancelled EntryStatus = "cancelled"
)

// Entry is one immutable journal record. Amount is signed: debits negative,
// credits positive. Freeze and unfreeze entries measure the available
// balance; settlement, fee, deposit and withdrawal entries measure the
// total balance. Either way balance_after - balance_before = amount.
type Entry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Currency      string          `json:"currency"`
	Kind          EntryKind       `json:"kind"`
	Status        EntryStatus     `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Journal is the append-only transaction log.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	archive func(Entry)
}

func NewJournal() *Journal {
	return &Journal{}
}

// SetArchive installs a durable-store mirror for appended entries.
func (j *Journal) SetArchive(fn func(Entry)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.archive = fn
}

func (j *Journal) append(e Entry) {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()

	j.mu.Lock()
	j.entries = append(j.entries, e)
	archive := j.archive
	j.mu.Unlock()

	if archive != nil {
		archive(e)
	}
}

// ForUser returns the user's entries, newest first, capped at limit
// (limit <= 0 means all).
func (j *Journal) ForUser(userID string, limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, 0)
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].UserID != userID {
			continue
		}
		out = append(out, j.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len reports the total number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
