package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"papertrade/internal/model"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// Postgres implements Store on a pgx connection pool. Per-user
// serialization of commits comes from locking the user row with
// SELECT ... FOR UPDATE; commits for different users never block each
// other.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	var u model.User
	var cash string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, hash, cash) VALUES ($1, $2, $3)
		 RETURNING id, username, hash, cash::text, created_at`,
		username, passwordHash, StartingCash.String(),
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &cash, &u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return model.User{}, fmt.Errorf("%w: %s", model.ErrDuplicateUser, username)
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	u.Cash, err = decimal.NewFromString(cash)
	if err != nil {
		return model.User{}, fmt.Errorf("create user: bad cash value: %w", err)
	}
	return u, nil
}

func (p *Postgres) UserByName(ctx context.Context, username string) (model.User, error) {
	return p.user(ctx, `WHERE username = $1`, username)
}

func (p *Postgres) UserByID(ctx context.Context, id int64) (model.User, error) {
	return p.user(ctx, `WHERE id = $1`, id)
}

func (p *Postgres) user(ctx context.Context, where string, arg interface{}) (model.User, error) {
	var u model.User
	var cash string
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, hash, cash::text, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &cash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	u.Cash, err = decimal.NewFromString(cash)
	if err != nil {
		return model.User{}, fmt.Errorf("load user: bad cash value: %w", err)
	}
	return u, nil
}

func (p *Postgres) UpdatePassword(ctx context.Context, userID int64, newHash string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET hash = $1 WHERE id = $2`, newHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (p *Postgres) Cash(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var cash string
	err := p.pool.QueryRow(ctx,
		`SELECT cash::text FROM users WHERE id = $1`, userID).Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, model.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read cash: %w", err)
	}
	return decimal.NewFromString(cash)
}

func (p *Postgres) Holdings(ctx context.Context, userID int64) (map[string]model.Holding, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT symbol, SUM(shares), MAX(asset_type) FROM transactions
		 WHERE user_id = $1 GROUP BY symbol HAVING SUM(shares) > 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("read holdings: %w", err)
	}
	defer rows.Close()

	holdings := make(map[string]model.Holding)
	for rows.Next() {
		var symbol string
		var h model.Holding
		if err := rows.Scan(&symbol, &h.Shares, &h.Type); err != nil {
			return nil, fmt.Errorf("read holdings: %w", err)
		}
		holdings[symbol] = h
	}
	return holdings, rows.Err()
}

func (p *Postgres) History(ctx context.Context, userID int64) ([]model.Transaction, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, symbol, asset_type, shares, price::text, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	var history []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Type, &t.Shares, &price, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("read history: bad price value: %w", err)
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func (p *Postgres) AppendTransaction(ctx context.Context, userID int64, symbol, assetType string, shares int64, price decimal.Decimal, ts time.Time) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO transactions (user_id, symbol, asset_type, shares, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		userID, symbol, assetType, shares, price.String(), ts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append transaction: %w", err)
	}
	return id, nil
}

func (p *Postgres) AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var cash string
	err := p.pool.QueryRow(ctx,
		`UPDATE users SET cash = cash + $1 WHERE id = $2 AND cash + $1 >= 0
		 RETURNING cash::text`, delta.String(), userID).Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is missing or the delta would go negative.
		if _, uerr := p.UserByID(ctx, userID); errors.Is(uerr, model.ErrNotFound) {
			return decimal.Zero, model.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("%w: balance would go negative", model.ErrInvalidInput)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust cash: %w", err)
	}
	return decimal.NewFromString(cash)
}

func (p *Postgres) CommitTrade(ctx context.Context, userID int64, symbol, assetType string, shares int64, price, cashDelta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return decimal.Zero, fmt.Errorf("commit trade: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the user row. All commits for this user queue here; other
	// users' rows stay untouched.
	var cashStr string
	err = tx.QueryRow(ctx,
		`SELECT cash::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&cashStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, model.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("commit trade: %w", err)
	}
	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("commit trade: bad cash value: %w", err)
	}

	// Re-validate under the lock. The engine already checked, but its
	// reads may be stale by now; losing the race is a Conflict.
	newCash := cash.Add(cashDelta)
	if newCash.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: balance changed since validation", model.ErrConflict)
	}
	if shares < 0 {
		var held int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(shares), 0) FROM transactions
			 WHERE user_id = $1 AND symbol = $2`, userID, symbol).Scan(&held)
		if err != nil {
			return decimal.Zero, fmt.Errorf("commit trade: %w", err)
		}
		if held+shares < 0 {
			return decimal.Zero, fmt.Errorf("%w: holdings changed since validation", model.ErrConflict)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, symbol, asset_type, shares, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, symbol, assetType, shares, price.String(), time.Now().UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("commit trade: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET cash = $1 WHERE id = $2`, newCash.String(), userID)
	if err != nil {
		if pgCode(err) == pgCheckViolation {
			return decimal.Zero, fmt.Errorf("%w: balance changed since validation", model.ErrConflict)
		}
		return decimal.Zero, fmt.Errorf("commit trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if code := pgCode(err); code == pgSerializationFailure || code == pgDeadlockDetected {
			return decimal.Zero, fmt.Errorf("%w: %v", model.ErrConflict, err)
		}
		return decimal.Zero, fmt.Errorf("commit trade: %w", err)
	}
	return newCash, nil
}

func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT u.username, u.cash::text FROM users u
		 WHERE EXISTS (SELECT 1 FROM transactions t WHERE t.user_id = u.id)
		 ORDER BY u.cash DESC, u.username ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		var cash string
		if err := rows.Scan(&e.Username, &cash); err != nil {
			return nil, fmt.Errorf("read leaderboard: %w", err)
		}
		if e.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("read leaderboard: bad cash value: %w", err)
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
