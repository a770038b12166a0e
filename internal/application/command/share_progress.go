package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/progress"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARE PROGRESS COMMAND
// Posting the daily card earns a privacy-dependent bonus once per day.
// ══════════════════════════════════════════════════════════════════════════════

// ShareProgressCommand contains the data to record a share.
type ShareProgressCommand struct {
	UserID  string
	Privacy shared.PrivacyLevel
}

// Validate validates the command.
func (c ShareProgressCommand) Validate() error {
	if c.UserID == "" {
		return shared.NewDomainError("share_progress", "Validate", shared.ErrInvalidID, "user_id is required")
	}
	if !c.Privacy.IsValid() {
		return shared.NewDomainError("share_progress", "Validate", shared.ErrInvalidInput, "unknown privacy level")
	}
	return nil
}

// ShareProgressHandler handles the ShareProgressCommand.
type ShareProgressHandler struct {
	users     user.Repository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewShareProgressHandler creates a new ShareProgressHandler.
func NewShareProgressHandler(users user.Repository, projector *progression.Projector) *ShareProgressHandler {
	return &ShareProgressHandler{
		users:     users,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("share_progress")),
	}
}

// Handle records the share. A second share on the same day is a duplicate.
func (h *ShareProgressHandler) Handle(ctx context.Context, cmd ShareProgressCommand) (progression.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return progression.Snapshot{}, err
	}
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		_, err := h.users.FindByID(ctx, cmd.UserID)
		return err
	}); err != nil {
		return progression.Snapshot{}, err
	}

	userID := shared.UserID(cmd.UserID)
	snap, err := h.projector.Record(ctx, userID, func(_ progress.State, at time.Time) (eventlog.Event, error) {
		day := shared.DateOf(at, h.projector.Location())
		return eventlog.Event{
			ID:             eventlog.NewID(),
			Kind:           eventlog.KindProgressShared,
			UserID:         userID,
			OccurrenceDate: day,
			ActivityDate:   day,
			Timestamp:      at,
			PrivacyLevel:   cmd.Privacy,
		}, nil
	})
	if err != nil {
		return progression.Snapshot{}, err
	}

	h.logger.Info("progress shared",
		logger.UserID(cmd.UserID),
		zap.String("privacy", string(cmd.Privacy)),
		logger.XPAmount(snap.AwardedXP()),
		zap.Bool("duplicate", snap.Duplicate),
	)
	return snap, nil
}
