package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/model"
)

// Memory implements Store in process memory. Used by tests and dev mode.
// Each account carries its own mutex: commits for one user serialize on
// it while other users proceed in parallel, the same discipline the
// Postgres store gets from row locks.
type Memory struct {
	mu      sync.RWMutex
	byID    map[int64]*memAccount
	byName  map[string]*memAccount
	userSeq int64
	txSeq   int64
}

type memAccount struct {
	mu   sync.Mutex
	user model.User
	txs  []model.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[int64]*memAccount),
		byName: make(map[string]*memAccount),
	}
}

func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[username]; ok {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrDuplicateUser, username)
	}

	m.userSeq++
	acct := &memAccount{
		user: model.User{
			ID:           m.userSeq,
			Username:     username,
			PasswordHash: passwordHash,
			Cash:         StartingCash,
			CreatedAt:    time.Now().UTC(),
		},
	}
	m.byID[acct.user.ID] = acct
	m.byName[username] = acct
	return acct.user, nil
}

func (m *Memory) account(id int64) (*memAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return acct, nil
}

func (m *Memory) UserByName(ctx context.Context, username string) (model.User, error) {
	m.mu.RLock()
	acct, ok := m.byName[username]
	m.mu.RUnlock()
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.user, nil
}

func (m *Memory) UserByID(ctx context.Context, id int64) (model.User, error) {
	acct, err := m.account(id)
	if err != nil {
		return model.User{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.user, nil
}

func (m *Memory) UpdatePassword(ctx context.Context, userID int64, newHash string) error {
	acct, err := m.account(userID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.user.PasswordHash = newHash
	return nil
}

func (m *Memory) Cash(ctx context.Context, userID int64) (decimal.Decimal, error) {
	acct, err := m.account(userID)
	if err != nil {
		return decimal.Zero, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.user.Cash, nil
}

func (m *Memory) Holdings(ctx context.Context, userID int64) (map[string]model.Holding, error) {
	acct, err := m.account(userID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return aggregate(acct.txs), nil
}

func aggregate(txs []model.Transaction) map[string]model.Holding {
	net := make(map[string]model.Holding)
	for _, t := range txs {
		h := net[t.Symbol]
		h.Shares += t.Shares
		h.Type = t.Type
		net[t.Symbol] = h
	}
	for symbol, h := range net {
		if h.Shares <= 0 {
			delete(net, symbol)
		}
	}
	return net
}

func (m *Memory) History(ctx context.Context, userID int64) ([]model.Transaction, error) {
	acct, err := m.account(userID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	// newest first
	out := make([]model.Transaction, len(acct.txs))
	for i, t := range acct.txs {
		out[len(acct.txs)-1-i] = t
	}
	return out, nil
}

func (m *Memory) AppendTransaction(ctx context.Context, userID int64, symbol, assetType string, shares int64, price decimal.Decimal, ts time.Time) (int64, error) {
	acct, err := m.account(userID)
	if err != nil {
		return 0, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return m.append(acct, symbol, assetType, shares, price, ts), nil
}

// append requires acct.mu held.
func (m *Memory) append(acct *memAccount, symbol, assetType string, shares int64, price decimal.Decimal, ts time.Time) int64 {
	id := atomic.AddInt64(&m.txSeq, 1)
	acct.txs = append(acct.txs, model.Transaction{
		ID:        id,
		UserID:    acct.user.ID,
		Symbol:    symbol,
		Type:      assetType,
		Shares:    shares,
		Price:     price,
		CreatedAt: ts,
	})
	return id
}

func (m *Memory) AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	acct, err := m.account(userID)
	if err != nil {
		return decimal.Zero, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	newCash := acct.user.Cash.Add(delta)
	if newCash.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: balance would go negative", model.ErrInvalidInput)
	}
	acct.user.Cash = newCash
	return newCash, nil
}

func (m *Memory) CommitTrade(ctx context.Context, userID int64, symbol, assetType string, shares int64, price, cashDelta decimal.Decimal) (decimal.Decimal, error) {
	acct, err := m.account(userID)
	if err != nil {
		return decimal.Zero, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	// Re-validate under the per-user lock; stale pre-checks lose here.
	newCash := acct.user.Cash.Add(cashDelta)
	if newCash.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: balance changed since validation", model.ErrConflict)
	}
	if shares < 0 {
		if aggregate(acct.txs)[symbol].Shares+shares < 0 {
			return decimal.Zero, fmt.Errorf("%w: holdings changed since validation", model.ErrConflict)
		}
	}

	m.append(acct, symbol, assetType, shares, price, time.Now().UTC())
	acct.user.Cash = newCash
	return newCash, nil
}

func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	m.mu.RLock()
	accounts := make([]*memAccount, 0, len(m.byID))
	for _, acct := range m.byID {
		accounts = append(accounts, acct)
	}
	m.mu.RUnlock()

	var entries []model.LeaderboardEntry
	for _, acct := range accounts {
		acct.mu.Lock()
		if len(acct.txs) > 0 {
			entries = append(entries, model.LeaderboardEntry{
				Username: acct.user.Username,
				Cash:     acct.user.Cash,
			})
		}
		acct.mu.Unlock()
	}

	sortLeaderboard(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func sortLeaderboard(entries []model.LeaderboardEntry) {
	// cash descending, username ascending on ties
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Cash.Equal(entries[j].Cash) {
			return entries[i].Cash.GreaterThan(entries[j].Cash)
		}
		return entries[i].Username < entries[j].Username
	})
}
