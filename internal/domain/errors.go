package domain

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrMalformedRoomID    = errors.New("malformed room id")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
)
