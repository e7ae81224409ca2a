package relationaldb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/market"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccessToken is an opaque bearer token bound to a user.
type AccessToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is one (user, account type, currency) ledger row. Available and
// Locked are tracked separately; both are always >= 0.
type Balance struct {
	UserID      string          `json:"user_id"`
	AccountType string          `json:"account_type"`
	Currency    string          `json:"currency"`
	Available   decimal.Decimal `json:"available"`
	Locked      decimal.Decimal `json:"locked"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Total returns available + locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Pool is the persisted state of one AMM pool. K is stored at double the
// decimal width of the reserves since it is their product.
type Pool struct {
	PoolID        string          `json:"pool_id"`
	SymbolID      int64           `json:"symbol_id"`
	ReserveBase   decimal.Decimal `json:"reserve_base"`
	ReserveQuote  decimal.Decimal `json:"reserve_quote"`
	K             decimal.Decimal `json:"k_value"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	TotalLPShares decimal.Decimal `json:"total_lp_shares"`
	VolumeBase    decimal.Decimal `json:"total_volume_base"`
	VolumeQuote   decimal.Decimal `json:"total_volume_quote"`
	FeesCollected decimal.Decimal `json:"total_fees_collected"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LPPosition is a user's share holding in one pool.
type LPPosition struct {
	PoolID    string          `json:"pool_id"`
	UserID    string          `json:"user_id"`
	Shares    decimal.Decimal `json:"shares"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LPEvent is one row of the liquidity journal.
type LPEvent struct {
	ID          int64           `json:"id"`
	PoolID      string          `json:"pool_id"`
	UserID      string          `json:"user_id"`
	Action      string          `json:"action"` // "add" or "remove"
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	Shares      decimal.Decimal `json:"shares"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Order is a persisted order book entry. LockedAmount records how much of
// LockedAsset is still held against the order's unfilled remainder.
type Order struct {
	OrderID        string             `json:"order_id"`
	SymbolID       int64              `json:"symbol_id"`
	UserID         string             `json:"user_id"`
	Side           market.Side        `json:"side"`
	Type           market.OrderType   `json:"order_type"`
	Price          decimal.Decimal    `json:"price"`
	Quantity       decimal.Decimal    `json:"quantity"`
	FilledQuantity decimal.Decimal    `json:"filled_quantity"`
	Status         market.OrderStatus `json:"status"`
	LockedAmount   decimal.Decimal    `json:"locked_amount"`
	LockedAsset    string             `json:"locked_asset"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is one persisted execution record.
type Trade struct {
	TradeID      string             `json:"trade_id"`
	SymbolID     int64              `json:"symbol_id"`
	UserID       string             `json:"user_id"`
	OrderID      string             `json:"order_id,omitempty"`
	MakerOrderID string             `json:"maker_order_id,omitempty"`
	MakerUserID  string             `json:"maker_user_id,omitempty"`
	Side         market.Side        `json:"side"`
	Engine       market.EngineKind  `json:"engine_type"`
	Price        decimal.Decimal    `json:"price"`
	Quantity     decimal.Decimal    `json:"quantity"`
	QuoteAmount  decimal.Decimal    `json:"quote_amount"`
	FeeAmount    decimal.Decimal    `json:"fee_amount"`
	FeeAsset     string             `json:"fee_asset"`
	Status       market.TradeStatus `json:"status"`
	EngineData   json.RawMessage    `json:"engine_data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// TradeFilter narrows trade listing queries. Zero values mean "any".
type TradeFilter struct {
	SymbolID int64
	UserID   string
	Limit    int
}

// OrderFilter narrows order listing queries. Statuses nil means "any".
type OrderFilter struct {
	SymbolID int64
	UserID   string
	Statuses []market.OrderStatus
	Limit    int
}

// UserRepository handles user and access token operations.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UserExists(ctx context.Context, userID string) (bool, error)

	CreateToken(ctx context.Context, token *AccessToken) error
	GetToken(ctx context.Context, token string) (*AccessToken, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// BalanceRepository handles ledger row operations. Get acquires a row lock
// when called inside a transaction so read-modify-write cycles are safe.
type BalanceRepository interface {
	Get(ctx context.Context, userID, accountType, currency string) (*Balance, error)
	List(ctx context.Context, userID, accountType string) ([]Balance, error)
	Put(ctx context.Context, balance *Balance) error
}

// SymbolRepository handles symbol configuration operations.
type SymbolRepository interface {
	Create(ctx context.Context, symbol *market.Symbol) error
	GetByID(ctx context.Context, id int64) (*market.Symbol, error)
	GetBySymbol(ctx context.Context, symbol string) (*market.Symbol, error)
	List(ctx context.Context, activeOnly bool) ([]market.Symbol, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// PoolRepository handles AMM pool state, LP positions and the LP journal.
type PoolRepository interface {
	Create(ctx context.Context, pool *Pool) error
	GetByPoolID(ctx context.Context, poolID string) (*Pool, error)
	GetBySymbolID(ctx context.Context, symbolID int64) (*Pool, error)
	Update(ctx context.Context, pool *Pool) error
	List(ctx context.Context) ([]Pool, error)

	GetPosition(ctx context.Context, poolID, userID string) (*LPPosition, error)
	PutPosition(ctx context.Context, position *LPPosition) error
	ListPositions(ctx context.Context, poolID string) ([]LPPosition, error)

	AppendEvent(ctx context.Context, event *LPEvent) error
	ListEvents(ctx context.Context, poolID string, limit int) ([]LPEvent, error)
}

// OrderRepository handles persisted order book entries.
type OrderRepository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	// ListOpen returns OPEN and PARTIAL orders for a symbol, oldest first.
	// Used to rehydrate the in-memory book on startup.
	ListOpen(ctx context.Context, symbolID int64) ([]Order, error)
	ListByFilter(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// TradeRepository handles execution records.
type TradeRepository interface {
	Insert(ctx context.Context, trade *Trade) error
	Get(ctx context.Context, tradeID string) (*Trade, error)
	UpdateStatus(ctx context.Context, tradeID string, status market.TradeStatus) error
	ListByFilter(ctx context.Context, filter TradeFilter) ([]Trade, error)
}

// TransactionContext represents a database transaction with repository access.
// All repository calls made through it execute on the same transaction.
type TransactionContext interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Users() UserRepository
	Balances() BalanceRepository
	Symbols() SymbolRepository
	Pools() PoolRepository
	Orders() OrderRepository
	Trades() TradeRepository
}

// RepositoryManager provides access to all repositories and transaction
// management.
type RepositoryManager interface {
	Users() UserRepository
	Balances() BalanceRepository
	Symbols() SymbolRepository
	Pools() PoolRepository
	Orders() OrderRepository
	Trades() TradeRepository

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	// WithTransaction runs fn inside a transaction, committing on nil and
	// rolling back on error or panic.
	WithTransaction(ctx context.Context, fn func(TransactionContext) error) error
}
