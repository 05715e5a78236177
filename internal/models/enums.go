// Package models provides data structures shared by the straddle scheduling
// and execution engine.
package models

// Side is the direction of the straddle: SHORT sells both legs to open,
// LONG buys both legs to open.
type Side string

const (
	// SideLong buys the call and the put to open.
	SideLong Side = "LONG"
	// SideShort sells the call and the put to open.
	SideShort Side = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (s Side) Sign() int {
	if s == SideLong {
		return 1
	}
	return -1
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// ExpiryScope selects which weekly option expiry a run trades.
type ExpiryScope string

const (
	// ExpiryCurrent selects the nearest weekly expiry.
	ExpiryCurrent ExpiryScope = "CURRENT"
	// ExpiryNext selects the weekly expiry after the nearest one.
	ExpiryNext ExpiryScope = "NEXT"
)

// Valid reports whether the scope is one of the two known values.
func (e ExpiryScope) Valid() bool {
	return e == ExpiryCurrent || e == ExpiryNext
}

// StrikeSelector chooses the underlying price source for strike selection.
type StrikeSelector string

const (
	// SelectorIndex uses the index quote directly.
	SelectorIndex StrikeSelector = "INDEX"
	// SelectorFuture uses the nearest-month future's quote when one exists.
	SelectorFuture StrikeSelector = "FUTURE"
)

// InstrumentType identifies the contract kind in the instrument master.
type InstrumentType string

const (
	// TypeCall is a call option contract (exchange code CE).
	TypeCall InstrumentType = "CE"
	// TypePut is a put option contract (exchange code PE).
	TypePut InstrumentType = "PE"
	// TypeFuture is a futures contract.
	TypeFuture InstrumentType = "FUT"
)

// TransactionType is the order direction sent to the broker.
type TransactionType string

const (
	// TransactionBuy buys the contract.
	TransactionBuy TransactionType = "BUY"
	// TransactionSell sells the contract.
	TransactionSell TransactionType = "SELL"
)

// Valid reports whether the transaction type is one of the two known values.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// EntryTransaction returns the order direction that opens a leg for the side.
func (s Side) EntryTransaction() TransactionType {
	if s == SideShort {
		return TransactionSell
	}
	return TransactionBuy
}

// ExitTransaction returns the order direction that closes a leg for the side.
func (s Side) ExitTransaction() TransactionType {
	if s == SideShort {
		return TransactionBuy
	}
	return TransactionSell
}
