package storage

import "errors"

// ErrStrategyNotFound is returned when no strategy exists for an ID
var ErrStrategyNotFound = errors.New("strategy not found")

// ErrAccountNotFound is returned when a user has no trading account
var ErrAccountNotFound = errors.New("trading account not found")

// ErrNoInstruments is returned when the instrument master has no contracts
// matching a lookup
var ErrNoInstruments = errors.New("no matching instruments")
