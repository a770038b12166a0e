package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lifeloop/progression/internal/application/command"
	"github.com/lifeloop/progression/internal/application/query"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	UserID      string `json:"user_id" validate:"omitempty,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=64"`
}

// CreateTaskRequest is the body of POST /users/{userID}/tasks.
type CreateTaskRequest struct {
	Title            string     `json:"title" validate:"required,max=200"`
	Category         string     `json:"category" validate:"required,oneof=work health personal fitness learning wellness"`
	Priority         bool       `json:"priority"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Proof            string     `json:"proof" validate:"omitempty,oneof=none photo"`
	Recurring        bool       `json:"recurring"`
	TimeSavedMinutes int        `json:"time_saved_minutes" validate:"gte=0,lte=1440"`
}

// CompleteTaskRequest is the optional body of a completion.
type CompleteTaskRequest struct {
	OccurrenceDate string `json:"occurrence_date" validate:"omitempty,datetime=2006-01-02"`
	Proof          string `json:"proof" validate:"omitempty,oneof=none photo"`
}

// CreateScopeRequest is the body of POST /scopes.
type CreateScopeRequest struct {
	ScopeID string `json:"scope_id" validate:"omitempty,max=64"`
	Kind    string `json:"kind" validate:"required,oneof=circle challenge"`
	Name    string `json:"name" validate:"required,max=100"`
	Privacy string `json:"privacy" validate:"omitempty,oneof=private metrics full"`
}

// MemberRequest names the user joining or winning a scope.
type MemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// ShareRequest is the body of POST /users/{userID}/share.
type ShareRequest struct {
	Privacy string `json:"privacy" validate:"required,oneof=private metrics full"`
}

// ReplayRequest is the optional body of a replay.
type ReplayRequest struct {
	Repair bool `json:"repair"`
}

// RefreshRequest is the optional body of a leaderboard refresh.
type RefreshRequest struct {
	Window string `json:"window" validate:"omitempty,oneof=all_time weekly daily"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// UserResponse is the public form of a user.
type UserResponse struct {
	ID          shared.UserID `json:"id"`
	DisplayName string        `json:"display_name"`
	CreatedAt   time.Time     `json:"created_at"`
}

func newUserResponse(u *user.User) UserResponse {
	return UserResponse{ID: u.ID, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
}

// ScopeResponse is the public form of a scope.
type ScopeResponse struct {
	ID             shared.ScopeID        `json:"id"`
	Kind           leaderboard.ScopeKind `json:"kind"`
	Name           string                `json:"name"`
	PrivacyDefault shared.PrivacyLevel   `json:"privacy_default"`
	Members        int                   `json:"members"`
	CreatedAt      time.Time             `json:"created_at"`
}

func newScopeResponse(s *leaderboard.Scope) ScopeResponse {
	return ScopeResponse{
		ID:             s.ID,
		Kind:           s.Kind,
		Name:           s.Name,
		PrivacyDefault: s.PrivacyDefault,
		Members:        len(s.Members),
		CreatedAt:      s.CreatedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS AND TASKS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	u, err := s.svc.CreateUser(r.Context(), command.CreateUserCommand{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newUserResponse(u))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	proof := shared.ProofNone
	if req.Proof != "" {
		proof = shared.ProofType(req.Proof)
	}

	t, err := s.svc.CreateTask(r.Context(), command.CreateTaskCommand{
		OwnerID:          chi.URLParam(r, "userID"),
		Title:            req.Title,
		Category:         shared.Category(req.Category),
		Priority:         req.Priority,
		ScheduledAt:      req.ScheduledAt,
		Deadline:         req.Deadline,
		Proof:            proof,
		Recurring:        req.Recurring,
		TimeSavedMinutes: req.TimeSavedMinutes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewTaskDTO(t, s.svc.Now(), s.config.AtRiskWindow))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := task.Status(r.URL.Query().Get("status"))
	switch status {
	case "", task.StatusPending, task.StatusCompleted, task.StatusMissed:
	default:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_input", "status must be one of pending, completed, missed")
		return
	}

	tasks, err := s.svc.ListTasks(r.Context(), query.GetTasksQuery{
		UserID: chi.URLParam(r, "userID"),
		Status: status,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tasks)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	cmd := command.CompleteTaskCommand{
		UserID: chi.URLParam(r, "userID"),
		TaskID: chi.URLParam(r, "taskID"),
		Proof:  shared.ProofType(req.Proof),
	}
	if req.OccurrenceDate != "" {
		d, err := shared.ParseDate(req.OccurrenceDate)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cmd.OccurrenceDate = d
	}

	snap, err := s.svc.CompleteTask(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if snap.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, r, status, snap)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION READS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.GetSnapshot(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.GetAchievements(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleGetSharePayload(w http.ResponseWriter, r *http.Request) {
	privacy := shared.PrivacyPrivate
	if raw := r.URL.Query().Get("privacy"); raw != "" {
		p, err := shared.ParsePrivacyLevel(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		privacy = p
	}

	payload, err := s.svc.GetSharePayload(r.Context(), query.GetSharePayloadQuery{
		UserID:  chi.URLParam(r, "userID"),
		Privacy: privacy,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, payload)
}

// ══════════════════════════════════════════════════════════════════════════════
// SOCIAL
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleShareProgress(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	snap, err := s.svc.ShareProgress(r.Context(), command.ShareProgressCommand{
		UserID:  chi.URLParam(r, "userID"),
		Privacy: shared.PrivacyLevel(req.Privacy),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, snap)
}

func (s *Server) handleCreateScope(w http.ResponseWriter, r *http.Request) {
	var req CreateScopeRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	scope, err := s.svc.CreateScope(r.Context(), command.CreateScopeCommand{
		ScopeID: req.ScopeID,
		Kind:    leaderboard.ScopeKind(req.Kind),
		Name:    req.Name,
		Privacy: shared.PrivacyLevel(req.Privacy),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newScopeResponse(scope))
}

func (s *Server) handleJoinScope(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	snap, err := s.svc.JoinScope(r.Context(), command.JoinScopeCommand{
		UserID:  req.UserID,
		ScopeID: chi.URLParam(r, "scopeID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, snap)
}

func (s *Server) handleRecordWin(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	snap, err := s.svc.RecordChallengeWin(r.Context(), command.RecordChallengeWinCommand{
		UserID:      req.UserID,
		ChallengeID: chi.URLParam(r, "scopeID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, snap)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARDS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := query.GetLeaderboardQuery{
		ScopeID: chi.URLParam(r, "scopeID"),
		Window:  r.URL.Query().Get("window"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		q.Limit = limit
	}

	board, err := s.svc.GetLeaderboard(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, board)
}

func (s *Server) handleRefreshLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	window, err := leaderboard.ParseWindow(req.Window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	board, err := s.svc.RefreshLeaderboard(r.Context(), command.RefreshLeaderboardCommand{
		ScopeID: chi.URLParam(r, "scopeID"),
		Window:  window,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, board)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	report, err := s.svc.Replay(r.Context(), command.ReplayUserCommand{
		UserID: chi.URLParam(r, "userID"),
		Repair: req.Repair,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
