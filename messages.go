package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Seednode/elements/rooms"
)

var (
	errUnknownMessage  = errors.New("unknown message type")
	errSessionMismatch = errors.New("message addressed to a different session")
	errNotJoined       = errors.New("join the game first")
	errAlreadyJoined   = errors.New("already joined this game")
	errPlayerMismatch  = errors.New("player name does not match this connection")
	errInvalidRequest  = errors.New("invalid request body")
)

// Messages coming from clients
type ClientMessage struct {
	Type       string `json:"type"`                 // "join", "choose", "next_round", "reset"
	SessionID  string `json:"sessionId,omitempty"`  // optional, must match the socket's game
	PlayerName string `json:"playerName,omitempty"` // join / choose
	Element    string `json:"element,omitempty"`    // choose
}

// command is a validated client request.
type command interface {
	name() string
}

type joinCommand struct{ playerName string }

type chooseCommand struct {
	playerName string
	element    string
}

type advanceCommand struct{}

type resetCommand struct{}

func (joinCommand) name() string    { return "join" }
func (chooseCommand) name() string  { return "choose" }
func (advanceCommand) name() string { return "next_round" }
func (resetCommand) name() string   { return "reset" }

// command validates the message against the game the socket is bound to.
func (m ClientMessage) command(gameID string) (command, error) {
	if m.SessionID != "" && m.SessionID != gameID {
		return nil, fmt.Errorf("%w: %q", errSessionMismatch, m.SessionID)
	}

	switch m.Type {
	case "join":
		name := strings.TrimSpace(m.PlayerName)
		if name == "" {
			return nil, rooms.ErrInvalidName
		}
		return joinCommand{playerName: name}, nil
	case "choose":
		if strings.TrimSpace(m.Element) == "" {
			return nil, fmt.Errorf("%w: missing element", rooms.ErrInvalidElement)
		}
		return chooseCommand{playerName: m.PlayerName, element: m.Element}, nil
	case "next_round":
		return advanceCommand{}, nil
	case "reset":
		return resetCommand{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownMessage, m.Type)
	}
}

// EventMessage carries a session event to every connected client.
type EventMessage struct {
	Type string      `json:"type"` // "roster_updated", "round_started", "result_ready", "game_reset"
	Data rooms.Event `json:"data"`
}

// SnapshotMessage is sent immediately on connect so the client can render
// the current state of the game.
type SnapshotMessage struct {
	Type    string         `json:"type"` // "snapshot"
	Session rooms.Snapshot `json:"session"`
	Rules   []string       `json:"rules"`
}

// JoinedMessage is sent only to the client whose join succeeded.
type JoinedMessage struct {
	Type       string `json:"type"` // "joined"
	Success    bool   `json:"success"`
	PlayerName string `json:"playerName"`
}

// ErrorMessage is sent only to the client whose request failed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorMessage(err error) ErrorMessage {
	return ErrorMessage{
		Type:    "error",
		Code:    errorCode(err),
		Message: err.Error(),
	}
}

type CreateRequest struct {
	Capacity int `json:"capacity"`
}

type CreateResponse struct {
	SessionID string `json:"sessionId"`
	JoinLink  string `json:"joinLink"`
}
