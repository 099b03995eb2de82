package domain

import "time"

// Direction is the side a flash trade bets on. It is carried for display and
// operator dashboards only; settlement math never looks at it.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// TradeState is the lifecycle state of a flash trade. Trades move from
// active to settled exactly once; there are no other transitions.
type TradeState string

const (
	TradeActive  TradeState = "active"
	TradeSettled TradeState = "settled"
)

// Outcome is the terminal result of a settled trade.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeWin || o == OutcomeLose
}

// FlashTrade is a timed trade with an escrowed stake. The stake is debited
// from the user's balance at creation and the trade settles after
// DurationSeconds, crediting stake+profit back.
type FlashTrade struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Pair            string     `json:"pair"`
	Stake           float64    `json:"stake"`
	Direction       Direction  `json:"direction"`
	DurationSeconds int        `json:"duration_seconds"`
	EntryPrice      float64    `json:"entry_price"`
	ExitPrice       float64    `json:"exit_price,omitempty"`
	State           TradeState `json:"state"`
	Outcome         *Outcome   `json:"outcome,omitempty"`
	Profit          float64    `json:"profit"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

// Expired reports whether the trade's settlement deadline has passed.
func (t FlashTrade) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// SettleResult is what the ledger returns after a successful settlement.
type SettleResult struct {
	Trade      FlashTrade
	NewBalance float64
}

// TransactionType classifies immutable balance-mutation records.
type TransactionType string

const (
	TxFlashTradeEscrow TransactionType = "flash_trade_escrow"
	TxFlashTradeWin    TransactionType = "flash_trade_win"
	TxFlashTradeLoss   TransactionType = "flash_trade_loss"
	TxAdminCredit      TransactionType = "admin_credit"
	TxAdminDebit       TransactionType = "admin_debit"
)

// Transaction is an append-only record of a balance mutation. One is written
// inside the same atomic unit as every escrow, settlement, and operator
// balance adjustment.
type Transaction struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"user_id"`
	Type          TransactionType `json:"type"`
	Amount        float64         `json:"amount"`
	BalanceBefore float64         `json:"balance_before"`
	BalanceAfter  float64         `json:"balance_after"`
	Reference     string          `json:"reference,omitempty"` // trade ID or operator note
	CreatedAt     time.Time       `json:"created_at"`
}
