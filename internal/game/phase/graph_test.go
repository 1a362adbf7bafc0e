package phase

import (
	"testing"

	"github.com/mgriffin/drawdash/internal/models"
)

func TestNextWalksForwardPath(t *testing.T) {
	order := []models.GamePhase{
		models.PhaseWaiting,
		models.PhaseBriefing,
		models.PhaseDrawing,
		models.PhaseVoting,
		models.PhaseResults,
		models.PhaseCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		next, ok := Next(order[i])
		if !ok {
			t.Fatalf("Next(%s): expected a forward edge", order[i])
		}
		if next != order[i+1] {
			t.Errorf("Next(%s) = %s, want %s", order[i], next, order[i+1])
		}
	}
}

func TestNextTerminalPhases(t *testing.T) {
	for _, p := range []models.GamePhase{models.PhaseCompleted, models.PhaseCancelled} {
		if _, ok := Next(p); ok {
			t.Errorf("Next(%s): terminal phase must have no forward edge", p)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		phase models.GamePhase
		want  bool
	}{
		{models.PhaseWaiting, false},
		{models.PhaseBriefing, false},
		{models.PhaseDrawing, false},
		{models.PhaseVoting, false},
		{models.PhaseResults, false},
		{models.PhaseCompleted, true},
		{models.PhaseCancelled, true},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.phase); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.GamePhase
		to   models.GamePhase
		want bool
	}{
		{"forward edge", models.PhaseWaiting, models.PhaseBriefing, true},
		{"skipping a phase", models.PhaseWaiting, models.PhaseDrawing, false},
		{"backward", models.PhaseVoting, models.PhaseDrawing, false},
		{"self loop", models.PhaseDrawing, models.PhaseDrawing, false},
		{"cancel from waiting", models.PhaseWaiting, models.PhaseCancelled, true},
		{"cancel from voting", models.PhaseVoting, models.PhaseCancelled, true},
		{"cancel from completed", models.PhaseCompleted, models.PhaseCancelled, false},
		{"cancel from cancelled", models.PhaseCancelled, models.PhaseCancelled, false},
		{"out of completed", models.PhaseCompleted, models.PhaseWaiting, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
