// Package dao holds sentinel errors shared by the durable stores.
package dao

import "errors"

var (
	// ErrInvalidID indicates that the supplied ID/key is empty or
	// otherwise invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")
)
