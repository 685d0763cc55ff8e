package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a record with the same key is already stored.
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrRefreshTokenMismatch indicates a rotation lost its compare-and-swap.
	ErrRefreshTokenMismatch = errors.New("repository: refresh token mismatch")
)
