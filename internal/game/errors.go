package game

import "errors"

// ErrNotFound is returned when a game, participant, or submission does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrentModification is returned by CompareAndSetPhase when the
// persisted phase no longer matches the expected one at write time.
var ErrConcurrentModification = errors.New("concurrent modification")

// ErrDuplicateSubmission is returned when a participant submits twice.
var ErrDuplicateSubmission = errors.New("duplicate submission")

// ErrDuplicateVote is returned when a participant votes twice.
var ErrDuplicateVote = errors.New("duplicate vote")
