package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrEmptyTitle    = errors.New("title must not be empty")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNotTracked    = errors.New("order is not tracked")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
)
