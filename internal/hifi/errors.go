package hifi

import (
	"errors"
	"fmt"
)

var (
	// ErrUnwiredPeer is returned when a controller is built without both
	// handshake signals.
	ErrUnwiredPeer = errors.New("hifi: handshake peer not wired")

	// ErrChannelCorrupted matches every *InvalidCodeError.
	ErrChannelCorrupted = errors.New("hifi: invalid code in channel")

	// ErrNilPanel is returned when the engine is built without a panel.
	ErrNilPanel = errors.New("hifi: panel is required")
)

// InvalidCodeError is the fatal halt reason raised by channel validation.
type InvalidCodeError struct {
	Code    int
	Flushed int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid input detected (code %d), system stopping", e.Code)
}

func (e *InvalidCodeError) Is(target error) bool { return target == ErrChannelCorrupted }
