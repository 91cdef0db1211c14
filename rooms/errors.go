package rooms

import (
	"errors"

	"github.com/Seednode/elements/elements"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionFull         = errors.New("session is full")
	ErrNameTaken           = errors.New("name already taken")
	ErrInvalidName         = errors.New("player name must not be empty")
	ErrInvalidElement      = elements.ErrInvalidElement
	ErrInvalidCapacity     = errors.New("capacity must be at least 1")
	ErrUnknownPlayer       = errors.New("player is not in this session")
	ErrWrongStatus         = errors.New("operation not allowed in current status")
	ErrIdentifierCollision = errors.New("session identifier collision")
)
