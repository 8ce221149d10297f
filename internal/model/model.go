package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset types accepted by the quote provider.
const (
	AssetStock  = "stock"
	AssetCrypto = "crypto"
)

// User is a registered account. Cash is mutated only by committed trades
// and by nothing else; it must never go negative.
type User struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Cash         decimal.Decimal `json:"cash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Transaction is one row of the append-only trade log. Shares is signed:
// positive for buys, negative for sells. Rows are never updated or deleted.
// Type records which provider endpoint priced the trade so the position
// can be re-priced the same way later.
type Transaction struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Type      string          `json:"type"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Holding is one symbol's net position derived from the transaction log.
type Holding struct {
	Shares int64  `json:"shares"`
	Type   string `json:"type"`
}

// Quote is a point-in-time price from the external provider. Quotes are
// never persisted or cached across requests.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Type   string          `json:"type"`
}

// Position is one priced line of a portfolio view. Shares is the net
// position derived from the transaction log; Price and Value are live.
type Position struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

// Portfolio is the full account view: cash plus live-priced positions.
type Portfolio struct {
	Cash       decimal.Decimal `json:"cash"`
	Positions  []Position      `json:"positions"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// Receipt describes a committed trade.
type Receipt struct {
	Symbol  string          `json:"symbol"`
	Shares  int64           `json:"shares"`
	Price   decimal.Decimal `json:"price"`
	Total   decimal.Decimal `json:"total"`
	Balance decimal.Decimal `json:"balance"`
}

// LeaderboardEntry is one row of the top-cash ranking.
type LeaderboardEntry struct {
	Rank     int             `json:"rank"`
	Username string          `json:"username"`
	Cash     decimal.Decimal `json:"cash"`
}
