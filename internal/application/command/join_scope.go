package command

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/domain/eventlog"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/user"
	"github.com/lifeloop/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOIN SCOPE COMMAND
// Adds a user to a circle or a challenge. Joining a circle is a
// progression event; joining a challenge only enters its leaderboard.
// ══════════════════════════════════════════════════════════════════════════════

// JoinScopeCommand contains the data to join a scope.
type JoinScopeCommand struct {
	UserID  string
	ScopeID string
}

// Validate validates the command.
func (c JoinScopeCommand) Validate() error {
	if c.UserID == "" {
		return shared.NewDomainError("join_scope", "Validate", shared.ErrInvalidID, "user_id is required")
	}
	if c.ScopeID == "" {
		return shared.NewDomainError("join_scope", "Validate", shared.ErrInvalidID, "scope_id is required")
	}
	return nil
}

// JoinScopeHandler handles the JoinScopeCommand.
type JoinScopeHandler struct {
	users     user.Repository
	scopes    leaderboard.ScopeRepository
	projector *progression.Projector
	logger    *zap.Logger
}

// NewJoinScopeHandler creates a new JoinScopeHandler.
func NewJoinScopeHandler(users user.Repository, scopes leaderboard.ScopeRepository, projector *progression.Projector) *JoinScopeHandler {
	return &JoinScopeHandler{
		users:     users,
		scopes:    scopes,
		projector: projector,
		logger:    projector.Logger().With(logger.Operation("join_scope")),
	}
}

// Handle joins the scope. Joining twice is a duplicate, not an error.
func (h *JoinScopeHandler) Handle(ctx context.Context, cmd JoinScopeCommand) (progression.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return progression.Snapshot{}, err
	}

	var u *user.User
	if err := h.projector.Retry(ctx, func(ctx context.Context) error {
		var err error
		u, err = h.users.FindByID(ctx, cmd.UserID)
		return err
	}); err != nil {
		return progression.Snapshot{}, err
	}

	scopeID := shared.ScopeID(cmd.ScopeID)
	unlockScope, err := h.projector.LockScope(ctx, scopeID)
	if err != nil {
		return progression.Snapshot{}, err
	}
	defer unlockScope()

	scope, err := h.findScope(ctx, cmd.ScopeID)
	if err != nil {
		return progression.Snapshot{}, err
	}

	if scope.Kind == leaderboard.ScopeChallenge {
		return h.joinChallenge(ctx, u, scope)
	}
	return h.joinCircle(ctx, u, scope)
}

func (h *JoinScopeHandler) joinCircle(ctx context.Context, u *user.User, scope *leaderboard.Scope) (progression.Snapshot, error) {
	unlock, err := h.projector.Lock(ctx, u.ID)
	if err != nil {
		return progression.Snapshot{}, err
	}
	defer unlock()

	state, err := h.projector.Load(ctx, u.ID)
	if err != nil {
		return progression.Snapshot{}, err
	}

	at := h.projector.EventTime(state)
	day := shared.DateOf(at, h.projector.Location())
	ev := eventlog.Event{
		ID:             eventlog.NewID(),
		Kind:           eventlog.KindCircleJoined,
		UserID:         u.ID,
		SubjectID:      scope.ID.String(),
		OccurrenceDate: day,
		ActivityDate:   day,
		Timestamp:      at,
	}

	id, appended, err := h.projector.Append(ctx, ev)
	if err != nil {
		return progression.Snapshot{}, err
	}

	// Membership is written after the event so a crash in between is
	// repaired by the next join attempt, using the logged join time.
	if !scope.HasMember(u.ID) {
		joinedAt := at
		if !appended {
			stored, err := h.projector.Events().FindByKey(ctx, ev.Key())
			if err != nil {
				return progression.Snapshot{}, err
			}
			joinedAt = stored.Timestamp
		}
		if err := h.addMember(ctx, scope, u, joinedAt); err != nil {
			return progression.Snapshot{}, err
		}
	}

	state, outcomes, err := h.projector.CatchUp(ctx, state)
	if err != nil {
		return progression.Snapshot{}, err
	}
	if !appended {
		if outcomes, err = h.projector.DuplicateOutcomes(ctx, u.ID, id, outcomes); err != nil {
			return progression.Snapshot{}, err
		}
	}

	snap := h.projector.Snapshot(state, outcomes)
	snap.Duplicate = !appended
	snap.EventID = id

	h.logger.Info("circle joined",
		logger.UserID(u.ID.String()),
		logger.ScopeID(scope.ID.String()),
		zap.Bool("duplicate", snap.Duplicate),
	)
	return snap, nil
}

func (h *JoinScopeHandler) joinChallenge(ctx context.Context, u *user.User, scope *leaderboard.Scope) (progression.Snapshot, error) {
	state, err := h.projector.Load(ctx, u.ID)
	if err != nil {
		return progression.Snapshot{}, err
	}

	duplicate := scope.HasMember(u.ID)
	if !duplicate {
		if err := h.addMember(ctx, scope, u, h.projector.Now()); err != nil {
			return progression.Snapshot{}, err
		}
		h.logger.Info("challenge joined",
			logger.UserID(u.ID.String()),
			logger.ScopeID(scope.ID.String()),
		)
	}

	snap := h.projector.Snapshot(state, nil)
	snap.Duplicate = duplicate
	return snap, nil
}

func (h *JoinScopeHandler) addMember(ctx context.Context, scope *leaderboard.Scope, u *user.User, joinedAt time.Time) error {
	err := scope.AddMember(leaderboard.Member{UserID: u.ID, DisplayName: u.DisplayName, JoinedAt: joinedAt})
	if err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
		return err
	}
	return h.projector.Retry(ctx, func(ctx context.Context) error {
		return h.scopes.Save(ctx, scope)
	})
}

func (h *JoinScopeHandler) findScope(ctx context.Context, id string) (*leaderboard.Scope, error) {
	var scope *leaderboard.Scope
	err := h.projector.Retry(ctx, func(ctx context.Context) error {
		var err error
		scope, err = h.scopes.FindByID(ctx, id)
		return err
	})
	return scope, err
}
