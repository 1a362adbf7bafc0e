package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mgriffin/drawdash/internal/gameerr"
)

// SchemaVersion is stamped on every published event. Consumers reject events
// whose major version they do not understand.
const SchemaVersion = "1.0.0"

// Type discriminates the event payload.
type Type string

const (
	TypePlayerJoined     Type = "player_joined"
	TypePlayerLeft       Type = "player_left"
	TypePlayerReady      Type = "player_ready"
	TypePhaseChanged     Type = "phase_changed"
	TypeTimerSync        Type = "timer_sync"
	TypeDrawingSubmitted Type = "drawing_submitted"
	TypeVoteCast         Type = "vote_cast"
	TypeGameCompleted    Type = "game_completed"
	TypeConnectionStatus Type = "connection_status"
)

// Event is the wire envelope for all game events.
type Event struct {
	Type      Type            `json:"type"`
	GameID    string          `json:"game_id"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event envelope around a typed payload.
func New(t Type, gameID, userID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		Type:      t,
		GameID:    gameID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Version:   SchemaVersion,
		Data:      data,
	}, nil
}

// CheckVersion rejects envelopes whose major version differs from ours. This
// is the forward-compatibility boundary; callers log the rejection and keep
// processing other events.
func CheckVersion(version string) error {
	major, _, found := strings.Cut(version, ".")
	if !found {
		return gameerr.New(gameerr.Validation, fmt.Sprintf("malformed event version %q", version))
	}
	got, err := strconv.Atoi(major)
	if err != nil {
		return gameerr.New(gameerr.Validation, fmt.Sprintf("malformed event version %q", version))
	}
	want, _, _ := strings.Cut(SchemaVersion, ".")
	if strconv.Itoa(got) != want {
		return gameerr.New(gameerr.Validation, fmt.Sprintf("unsupported event major version %d", got))
	}
	return nil
}

// ParsePayload parses the envelope's data into the payload struct for its
// type. Unknown types return nil, nil so consumers can ignore them.
func ParsePayload(ev Event) (any, error) {
	switch ev.Type {
	case TypePlayerJoined:
		var p PlayerJoinedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypePlayerLeft:
		var p PlayerLeftPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypePlayerReady:
		var p PlayerReadyPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypePhaseChanged:
		var p PhaseChangedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeTimerSync:
		var p TimerSyncPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeDrawingSubmitted:
		var p DrawingSubmittedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeVoteCast:
		var p VoteCastPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeGameCompleted:
		var p GameCompletedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeConnectionStatus:
		var p ConnectionStatusPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
