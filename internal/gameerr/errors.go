package gameerr

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Category classifies a failure for propagation and retry decisions.
type Category string

const (
	Network                Category = "NETWORK"
	Authentication         Category = "AUTHENTICATION"
	Validation             Category = "VALIDATION"
	Permission             Category = "PERMISSION"
	GameState              Category = "GAME_STATE"
	Realtime               Category = "REALTIME"
	Storage                Category = "STORAGE"
	Timeout                Category = "TIMEOUT"
	ConcurrentModification Category = "CONCURRENT_MODIFICATION"
	Unknown                Category = "UNKNOWN"
)

// Severity grades how bad a classified failure is for operators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is a classified failure. Recoverable means the system can keep serving
// already-loaded state; Retryable means a repeat of the same call may succeed.
type Error struct {
	Category    Category
	Severity    Severity
	Message     string
	UserMessage string
	Recoverable bool
	Retryable   bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// categoryDefaults carries the per-category policy of the propagation rules:
// business-rule rejections are final, transport and storage failures retry,
// authentication escalates.
var categoryDefaults = map[Category]Error{
	Network:                {Severity: SeverityMedium, UserMessage: "Connection problem, retrying...", Recoverable: true, Retryable: true},
	Authentication:         {Severity: SeverityHigh, UserMessage: "Please sign in again.", Recoverable: false, Retryable: false},
	Validation:             {Severity: SeverityLow, UserMessage: "That request was not valid.", Recoverable: true, Retryable: false},
	Permission:             {Severity: SeverityMedium, UserMessage: "You are not allowed to do that.", Recoverable: false, Retryable: false},
	GameState:              {Severity: SeverityLow, UserMessage: "The game has moved on.", Recoverable: true, Retryable: false},
	Realtime:               {Severity: SeverityMedium, UserMessage: "Reconnecting...", Recoverable: true, Retryable: true},
	Storage:                {Severity: SeverityHigh, UserMessage: "Temporary server problem, retrying...", Recoverable: true, Retryable: true},
	Timeout:                {Severity: SeverityMedium, UserMessage: "The server took too long, retrying...", Recoverable: true, Retryable: true},
	ConcurrentModification: {Severity: SeverityLow, UserMessage: "Someone got there first.", Recoverable: true, Retryable: true},
	Unknown:                {Severity: SeverityHigh, UserMessage: "Something went wrong.", Recoverable: false, Retryable: false},
}

// New builds a classified error with the category's default policy.
func New(cat Category, msg string) *Error {
	return Wrap(cat, msg, nil)
}

// Wrap builds a classified error around an underlying cause.
func Wrap(cat Category, msg string, err error) *Error {
	d := categoryDefaults[cat]
	return &Error{
		Category:    cat,
		Severity:    d.Severity,
		Message:     msg,
		UserMessage: d.UserMessage,
		Recoverable: d.Recoverable,
		Retryable:   d.Retryable,
		Err:         err,
	}
}

// Classify maps an arbitrary error to a classified one. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(Timeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return Wrap(Network, "operation cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(Timeout, "network timeout", err)
		}
		return Wrap(Network, "network failure", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return Wrap(Storage, "database failure", err)
	}
	return Wrap(Unknown, "unclassified failure", err)
}

// Is reports whether err is a classified error of the given category.
func Is(err error, cat Category) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category == cat
	}
	return false
}
