package kmsplit

import "errors"

var (
	// ErrInvalidConfig wraps every configuration validation failure
	ErrInvalidConfig = errors.New("kmsplit: invalid configuration")

	// ErrTableFull is returned when a hashed small-k table has no free slot left
	ErrTableFull = errors.New("kmsplit: small-k table full")

	// ErrStopFeeding tells a ChunkSource to stop producing; it is not a failure
	ErrStopFeeding = errors.New("kmsplit: stop feeding")

	// ErrBufferTooLarge is returned when a single acquisition exceeds a pool share
	ErrBufferTooLarge = errors.New("kmsplit: buffer larger than pool share")
)
