// Package ledger is the durable record of users, cash balances and the
// append-only transaction log. Holdings are derived, never stored.
//
// CommitTrade is the load-bearing contract: transaction append and cash
// adjustment succeed or fail together, serialized per user, and the
// affordability/holdings checks are re-run under that serialization so a
// stale pre-check loses with ErrConflict instead of corrupting the ledger.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/model"
)

// StartingCash is credited to every new account.
var StartingCash = decimal.RequireFromString("10000.00")

type Store interface {
	// CreateUser registers a new account with StartingCash.
	// A taken username fails with ErrDuplicateUser.
	CreateUser(ctx context.Context, username, passwordHash string) (model.User, error)

	// UserByName fails with ErrNotFound if the username is unknown.
	UserByName(ctx context.Context, username string) (model.User, error)

	// UserByID fails with ErrNotFound if the id is unknown.
	UserByID(ctx context.Context, id int64) (model.User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, userID int64, newHash string) error

	// Cash returns the current balance.
	Cash(ctx context.Context, userID int64) (decimal.Decimal, error)

	// Holdings aggregates the transaction log into net positions per
	// symbol, keeping only strictly positive ones. Idempotent.
	Holdings(ctx context.Context, userID int64) (map[string]model.Holding, error)

	// History returns the user's transactions, newest first.
	History(ctx context.Context, userID int64) ([]model.Transaction, error)

	// AppendTransaction inserts one log row. No affordability validation
	// here; that is the trade engine's job.
	AppendTransaction(ctx context.Context, userID int64, symbol, assetType string, shares int64, price decimal.Decimal, ts time.Time) (int64, error)

	// AdjustCash applies delta to the balance, failing with
	// ErrInvalidInput if the result would be negative.
	AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error)

	// CommitTrade atomically appends a transaction and applies cashDelta,
	// serialized against other commits for the same user. If a concurrent
	// commit invalidated the caller's checks it fails with ErrConflict
	// and leaves no partial state. On success it returns the balance as
	// of this commit, read under the same serialization.
	CommitTrade(ctx context.Context, userID int64, symbol, assetType string, shares int64, price, cashDelta decimal.Decimal) (decimal.Decimal, error)

	// Leaderboard returns the top accounts by cash among users that have
	// traded at least once.
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}
