package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CHALLENGE WIN COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RecordChallengeWinCommand declares the winner of a challenge.
type RecordChallengeWinCommand struct {
	UserID      string
	ChallengeID string
}

// Validate validates the command.
func (c RecordChallengeWinCommand) Validate() error {
	if c.UserID == "" {
		return shared.NewDomainError("record_challenge_win", "Validate", shared.ErrInvalidID, "user_id is required")
	}
	if c.ChallengeID == "" {
		return shared.NewDomainError("record_challenge_win", "Validate", shared.ErrInvalidID, "challenge_id is required")
	}
	return nil
}

// RecordChallengeWinHandler handles the RecordChallengeWinCommand.
type RecordChallengeWinHandler struct {
	scopes    leaderboard.ScopeRepository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewRecordChallengeWinHandler creates a new RecordChallengeWinHandler.
func NewRecordChallengeWinHandler(scopes leaderboard.ScopeRepository, projector *progression.Projector) *RecordChallengeWinHandler {
	return &RecordChallengeWinHandler{
		scopes:    scopes,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("record_challenge_win")),
	}
}

// Handle records the win. The winner must be a member of the challenge.
func (h *RecordChallengeWinHandler) Handle(ctx context.Context, cmd RecordChallengeWinCommand) (progression.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return progression.Snapshot{}, err
	}

	var scope *leaderboard.Scope
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		var err error
		scope, err = h.scopes.FindByID(ctx, cmd.ChallengeID)
		return err
	}); err != nil {
		return progression.Snapshot{}, err
	}
	if scope.Kind != leaderboard.ScopeChallenge {
		return progression.Snapshot{}, shared.NewDomainError("record_challenge_win", "Handle", shared.ErrInvalidState,
			"scope is not a challenge")
	}

	userID := shared.UserID(cmd.UserID)
	if !scope.HasMember(userID) {
		return progression.Snapshot{}, shared.NewDomainError("record_challenge_win", "Handle", shared.ErrValidation,
			"winner is not a member of the challenge")
	}

	snap, err := h.projector.Record(ctx, userID, func(_ progress.State, at time.Time) (eventlog.Event, error) {
		day := shared.DateOf(at, h.projector.Location())
		return eventlog.Event{
			ID:             eventlog.NewID(),
			Kind:           eventlog.KindChallengeWon,
			UserID:         userID,
			SubjectID:      scope.ID.String(),
			OccurrenceDate: day,
			ActivityDate:   day,
			Timestamp:      at,
		}, nil
	})
	if err != nil {
		return progression.Snapshot{}, err
	}

	h.logger.Info("challenge won",
		logger.UserID(cmd.UserID),
		logger.ScopeID(cmd.ChallengeID),
		zap.Bool("duplicate", snap.Duplicate),
	)
	return snap, nil
}
