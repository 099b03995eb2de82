package domain

import "errors"

var (
	ErrTradeNotFound       = errors.New("trade not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrAlreadySettled      = errors.New("trade already settled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidDuration     = errors.New("unsupported trade duration")
	ErrStakeOutOfRange     = errors.New("stake out of configured range")
	ErrInvalidDirection    = errors.New("direction must be 'up' or 'down'")
	ErrInvalidPolicy       = errors.New("invalid policy")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
	ErrPriceUnavailable    = errors.New("no price available for pair")
	ErrLockHeld            = errors.New("lock already held")
	ErrNotFound            = errors.New("not found")
)
