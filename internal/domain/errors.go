package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrSigningFailed    = errors.New("signing failed")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrReconnectRequest = errors.New("exchange requested reconnect")
	ErrSessionClosed    = errors.New("session closed")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrNotSubscribed    = errors.New("market not subscribed")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidTick      = errors.New("invalid tick size")
	ErrEngineStopped    = errors.New("engine stopped")
)
