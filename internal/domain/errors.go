package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRoomNotFound is returned when the room document does not exist (or no longer exists).
	ErrRoomNotFound = errors.New("room no longer exists")
	// ErrUserNotFound is returned when a profile document is missing.
	ErrUserNotFound = errors.New("user not found")
	ErrBanned       = errors.New("you are banned from this room")
	// ErrWrongPassword is returned for private rooms when the password does not match.
	ErrWrongPassword      = errors.New("wrong room password")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrRoomFull           = errors.New("room is full")
	// ErrUnauthorized marks host-only (or admin-only) actions attempted by someone else.
	ErrUnauthorized = errors.New("not allowed")
	ErrNotInRoom    = errors.New("not in this room")
	ErrNotPlaying   = errors.New("no question is active")
	// ErrAlreadyAnswered is returned for duplicate submissions; callers treat it as a no-op.
	ErrAlreadyAnswered    = errors.New("already answered")
	ErrNoPowerup          = errors.New("no uses left for this powerup")
	ErrNoRoomAvailable    = errors.New("no suitable room found")
	ErrNotEnoughPlayers   = errors.New("at least two players are required")
	ErrPlayersNotReady    = errors.New("not every player is ready")
	ErrWrongStatus        = errors.New("action not allowed in the current phase")
	ErrNotEnoughQuestions = errors.New("not enough approved questions for this game")
	// ErrConcurrencyConflict is returned when a transaction kept losing optimistic races.
	ErrConcurrencyConflict = errors.New("transaction retries exhausted")
	// ErrStaleTimer marks a host timer whose expected state no longer holds.
	ErrStaleTimer   = errors.New("room moved on before timer fired")
	ErrBetTooSmall  = errors.New("bet is below the minimum")
	ErrNotSpectator = errors.New("only spectators can bet")
	ErrAlreadyBet   = errors.New("bet already placed")
	// ErrGameNotFound indicates the selected game is not in the catalog.
	ErrGameNotFound = errors.New("game not found")
)

// ValidationError reports bad caller input. No state was mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FundShortfall names a player who cannot cover the entry fee.
type FundShortfall struct {
	UID      string
	Username string
	Points   int
}

// InsufficientFundsError is returned at join or at game start.
type InsufficientFundsError struct {
	Required int
	Players  []FundShortfall
}

func (e *InsufficientFundsError) Error() string {
	names := make([]string, 0, len(e.Players))
	for _, p := range e.Players {
		name := p.Username
		if name == "" {
			name = p.UID
		}
		names = append(names, name)
	}
	return fmt.Sprintf("insufficient points (need %d): %s", e.Required, strings.Join(names, ", "))
}

// ExternalServiceError wraps failures of question generation or other collaborators.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Severity of an error as shown to the acting user.
type Severity string

const (
	SeveritySilent   Severity = "silent"
	SeverityAdvisory Severity = "info"
	SeverityError    Severity = "error"
)

// Classify maps an error to the severity used by the toast layer.
func Classify(err error) Severity {
	switch {
	case err == nil:
		return SeveritySilent
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAlreadyAnswered), errors.Is(err, ErrStaleTimer):
		return SeveritySilent
	case errors.Is(err, ErrNoRoomAvailable), errors.Is(err, ErrNoPowerup):
		return SeverityAdvisory
	}
	return SeverityError
}
