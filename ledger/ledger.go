// Package ledger implements atomic per-(user, currency) balance accounting:
// freeze/unfreeze of order reservations, fill settlement, fees, and an
// append-only transaction journal.
//
// Every wallet is guarded by its own mutex. Operations that touch several
// wallets at once (a fill settles four) acquire the locks through Group,
// which sorts keys by (user id, currency) so concurrent groups can never
// deadlock.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
)

var (
	// ErrInsufficientFunds is returned when a freeze or withdrawal exceeds
	// the available balance. Recoverable; surfaced to the caller.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvariant marks a broken post-condition (negative balance,
	// frozen > total). The originating operation is aborted; the process
	// keeps serving.
	ErrInvariant = errors.New("ledger invariant violation")
)

// Key identifies a wallet.
type Key struct {
	UserID   string
	Currency string
}

// Less orders keys by (user id, currency); Group acquires locks in this
// order.
func (k Key) Less(o Key) bool {
	if k.UserID != o.UserID {
		return k.UserID < o.UserID
	}
	return k.Currency < o.Currency
}

// Balance is a point-in-time view of one wallet.
type Balance struct {
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Frozen    decimal.Decimal `json:"frozen"`
	Available decimal.Decimal `json:"available"`
}

type wallet struct {
	mu     sync.Mutex
	key    Key
	total  decimal.Decimal
	frozen decimal.Decimal
}

func (w *wallet) available() decimal.Decimal {
	return w.total.Sub(w.frozen)
}

func (w *wallet) balance() Balance {
	return Balance{
		UserID:    w.key.UserID,
		Currency:  w.key.Currency,
		Total:     w.total,
		Frozen:    w.frozen,
		Available: w.available(),
	}
}

// Ledger owns all wallets and the journal.
type Ledger struct {
	mu      sync.Mutex
	wallets map[Key]*wallet

	journal *Journal
	events  bus.Publisher
	log     *zap.Logger

	// onAlarm is bumped on every invariant alarm (metrics hook).
	onAlarm func()

	// archiveWallet mirrors wallet state to durable storage when set.
	archiveWallet func(Balance)
}

// New creates an empty ledger. events may be nil in tests.
func New(events bus.Publisher, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		wallets: make(map[Key]*wallet),
		journal: NewJournal(),
		events:  events,
		log:     log,
	}
}

// Journal exposes the transaction journal.
func (l *Ledger) Journal() *Journal { return l.journal }

// OnAlarm installs the invariant-alarm hook.
func (l *Ledger) OnAlarm(fn func()) { l.onAlarm = fn }

// SetWalletArchive installs the durable-store mirror hook.
func (l *Ledger) SetWalletArchive(fn func(Balance)) { l.archiveWallet = fn }

// get auto-materializes the wallet on first reference.
func (l *Ledger) get(k Key) *wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[k]
	if !ok {
		w = &wallet{key: k, total: decimal.Zero, frozen: decimal.Zero}
		l.wallets[k] = w
	}
	return w
}

func (l *Ledger) alarm(msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
	if l.onAlarm != nil {
		l.onAlarm()
	}
}

// notify publishes the wallet's new state on the user's wallet topic and
// mirrors it to the archive. Called with the wallet lock held.
func (l *Ledger) notify(w *wallet) {
	b := w.balance()
	if l.archiveWallet != nil {
		l.archiveWallet(b)
	}
	if l.events != nil {
		l.events.Publish(bus.UserWallet(w.key.UserID), "wallet_update", b)
	}
}

// Provision materializes wallets for a user without mutating balances.
// Account creation calls this explicitly instead of relying on side effects.
func (l *Ledger) Provision(userID string, currencies ...string) {
	for _, c := range currencies {
		l.get(Key{UserID: userID, Currency: c})
	}
}

// Freeze reserves amount against the wallet's available balance.
func (l *Ledger) Freeze(k Key, amount decimal.Decimal, ref, desc string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: freeze amount must be positive, got %s", ErrInvariant, amount)
	}
	w := l.get(k)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.available().LessThan(amount) {
		return fmt.Errorf("%w: %s %s required, %s available",
			ErrInsufficientFunds, amount, k.Currency, w.available())
	}
	before := w.available()
	w.frozen = w.frozen.Add(amount)
	l.journal.append(Entry{
		UserID: k.UserID, Currency: k.Currency,
		Kind: KindTrade, Status: StatusPending,
		Amount: amount.Neg(), BalanceBefore: before, BalanceAfter: w.available(),
		Reference: ref, Description: desc,
	})
	l.notify(w)
	return nil
}

// Unfreeze releases a reservation. The release clamps at zero to tolerate
// rounding drift; a clamp is an invariant alarm, not a hard failure.
func (l *Ledger) Unfreeze(k Key, amount decimal.Decimal, ref, desc string) {
	if amount.IsZero() {
		return
	}
	w := l.get(k)
	w.mu.Lock()
	defer w.mu.Unlock()
	l.unfreezeLocked(w, amount, ref, desc)
	l.notify(w)
}

func (l *Ledger) unfreezeLocked(w *wallet, amount decimal.Decimal, ref, desc string) {
	released := amount
	if w.frozen.LessThan(amount) {
		l.alarm("unfreeze clamped to zero",
			zap.String("user", w.key.UserID),
			zap.String("currency", w.key.Currency),
			zap.String("requested", amount.String()),
			zap.String("frozen", w.frozen.String()))
		released = w.frozen
	}
	before := w.available()
	w.frozen = w.frozen.Sub(released)
	l.journal.append(Entry{
		UserID: w.key.UserID, Currency: w.key.Currency,
		Kind: KindTrade, Status: StatusCompleted,
		Amount: released, BalanceBefore: before, BalanceAfter: w.available(),
		Reference: ref, Description: desc,
	})
}

// Deposit credits the wallet total (mint). Journal kind deposit.
func (l *Ledger) Deposit(k Key, amount decimal.Decimal, ref, desc string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvariant)
	}
	w := l.get(k)
	w.mu.Lock()
	defer w.mu.Unlock()

	before := w.total
	w.total = w.total.Add(amount)
	l.journal.append(Entry{
		UserID: k.UserID, Currency: k.Currency,
		Kind: KindDeposit, Status: StatusCompleted,
		Amount: amount, BalanceBefore: before, BalanceAfter: w.total,
		Reference: ref, Description: desc,
	})
	l.notify(w)
	return nil
}

// Withdraw debits the wallet's available balance (burn). Journal kind
// withdrawal.
func (l *Ledger) Withdraw(k Key, amount decimal.Decimal, ref, desc string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrInvariant)
	}
	w := l.get(k)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.available().LessThan(amount) {
		return fmt.Errorf("%w: %s %s required, %s available",
			ErrInsufficientFunds, amount, k.Currency, w.available())
	}
	before := w.total
	w.total = w.total.Sub(amount)
	l.journal.append(Entry{
		UserID: k.UserID, Currency: k.Currency,
		Kind: KindWithdrawal, Status: StatusCompleted,
		Amount: amount.Neg(), BalanceBefore: before, BalanceAfter: w.total,
		Reference: ref, Description: desc,
	})
	l.notify(w)
	return nil
}

// Balance returns one wallet's state, materializing it if needed.
func (l *Ledger) Balance(k Key) Balance {
	w := l.get(k)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance()
}

// Snapshot lists all wallets of a user.
func (l *Ledger) Snapshot(userID string) []Balance {
	l.mu.Lock()
	keys := make([]Key, 0)
	for k := range l.wallets {
		if k.UserID == userID {
			keys = append(keys, k)
		}
	}
	l.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([]Balance, 0, len(keys))
	for _, k := range keys {
		out = append(out, l.Balance(k))
	}
	return out
}

// TotalSupply sums wallet totals for a currency. Used by conservation checks.
func (l *Ledger) TotalSupply(currency string) decimal.Decimal {
	l.mu.Lock()
	wallets := make([]*wallet, 0)
	for k, w := range l.wallets {
		if k.Currency == currency {
			wallets = append(wallets, w)
		}
	}
	l.mu.Unlock()

	sum := decimal.Zero
	for _, w := range wallets {
		w.mu.Lock()
		sum = sum.Add(w.total)
		w.mu.Unlock()
	}
	return sum
}

// Group is a multi-wallet atomic section. All locks are held from Lock
// until Release.
type Group struct {
	l       *Ledger
	wallets []*wallet
	byKey   map[Key]*wallet
}

// Group locks the given wallets in (user id, currency) order and returns
// the critical section handle. Callers must Release.
func (l *Ledger) Group(keys ...Key) *Group {
	uniq := make(map[Key]struct{}, len(keys))
	ordered := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := uniq[k]; ok {
			continue
		}
		uniq[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	g := &Group{l: l, byKey: make(map[Key]*wallet, len(ordered))}
	for _, k := range ordered {
		w := l.get(k)
		w.mu.Lock()
		g.wallets = append(g.wallets, w)
		g.byKey[k] = w
	}
	return g
}

// Release unlocks all wallets in reverse order and publishes their state.
func (g *Group) Release() {
	for i := len(g.wallets) - 1; i >= 0; i-- {
		g.l.notify(g.wallets[i])
		g.wallets[i].mu.Unlock()
	}
	g.wallets = nil
}

func (g *Group) wallet(k Key) (*wallet, error) {
	w, ok := g.byKey[k]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s/%s not part of group", ErrInvariant, k.UserID, k.Currency)
	}
	return w, nil
}

// Balance reads a wallet's state with the group lock held. Matching checks
// its preconditions through this before committing any mutation, so a
// failed step leaves the group untouched.
func (g *Group) Balance(k Key) (Balance, error) {
	w, err := g.wallet(k)
	if err != nil {
		return Balance{}, err
	}
	return w.balance(), nil
}

// SettleDebit consumes frozen funds on a fill: total and frozen both drop
// by amount. A frozen balance smaller than amount is a matching bug.
func (g *Group) SettleDebit(k Key, amount decimal.Decimal, ref, desc string) error {
	w, err := g.wallet(k)
	if err != nil {
		return err
	}
	if w.frozen.LessThan(amount) {
		g.l.alarm("settle debit exceeds frozen balance",
			zap.String("user", k.UserID),
			zap.String("currency", k.Currency),
			zap.String("amount", amount.String()),
			zap.String("frozen", w.frozen.String()))
		return fmt.Errorf("%w: settle debit %s exceeds frozen %s for %s/%s",
			ErrInvariant, amount, w.frozen, k.UserID, k.Currency)
	}
	before := w.total
	w.total = w.total.Sub(amount)
	w.frozen = w.frozen.Sub(amount)
	if w.total.IsNegative() {
		g.l.alarm("negative total after settle debit",
			zap.String("user", k.UserID), zap.String("currency", k.Currency))
		return fmt.Errorf("%w: negative total for %s/%s", ErrInvariant, k.UserID, k.Currency)
	}
	g.l.journal.append(Entry{
		UserID: k.UserID, Currency: k.Currency,
		Kind: KindTrade, Status: StatusCompleted,
		Amount: amount.Neg(), BalanceBefore: before, BalanceAfter: w.total,
		Reference: ref, Description: desc,
	})
	return nil
}

// SettleCredit credits the receiving side of a fill.
func (g *Group) SettleCredit(k Key, amount decimal.Decimal, ref, desc string) error {
	w, err := g.wallet(k)
	if err != nil {
		return err
	}
	before := w.total
	w.total = w.total.Add(amount)
	g.l.journal.append(Entry{
		UserID: k.UserID, Currency: k.Currency,
		Kind: KindTrade, Status: StatusCompleted,
		Amount: amount, BalanceBefore: before, BalanceAfter: w.total,
		Reference: ref, Description: desc,
	})
	return nil
}

// ApplyFee debits a trading fee. fromFrozen additionally consumes the
// order's reservation (market buys reserve headroom that covers fees).
func (g *Group) ApplyFee(k Key, amount decimal.Decimal, fromFrozen bool, ref, desc string) error {
	if amount.IsZero() {
		return nil
	}
	w, err := g.wallet(k)
	if err != nil {
		return err
	}
	if fromFrozen && w.frozen.LessThan(amount) {
		g.l.alarm("fee exceeds frozen balance",
			zap.String("user", k.UserID), zap.String("currency", k.Currency))
		return fmt.Errorf("%w: fee %s exceeds frozen %s for %s/%s",
			ErrInvariant, amount, w.frozen, k.UserID, k.Currency)
	}
	before := w.total
	w.total = w.total.Sub(amount)
	if fromFrozen {
		w.frozen = w.frozen.Sub(amount)
	}
	if w.total.IsNegative() {
		g.l.alarm("negative total after fee",
			zap.String("user", k.UserID), zap.String("currency", k.Currency))
		return fmt.Errorf("%w: negative total for %s/%s", ErrInvariant, k.UserID, k.Currency)
	}
	g.l.journal.append(Entry{
		UserID: k.UserID, Currency: k.Currency,
		Kind: KindFee, Status: StatusCompleted,
		Amount: amount.Neg(), BalanceBefore: before, BalanceAfter: w.total,
		Reference: ref, Description: desc,
	})
	return nil
}

// Unfreeze releases a reservation inside the group (clamped, alarmed).
func (g *Group) Unfreeze(k Key, amount decimal.Decimal, ref, desc string) error {
	if amount.IsZero() {
		return nil
	}
	w, err := g.wallet(k)
	if err != nil {
		return err
	}
	g.l.unfreezeLocked(w, amount, ref, desc)
	return nil
}
