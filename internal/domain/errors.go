package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConnected  = errors.New("not connected")
	ErrRateLimited   = errors.New("rate limited")
	ErrClockUnsynced = errors.New("clock never synchronized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrNotCanceled   = errors.New("cancel not acknowledged")
)
