package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ScopeRepository implements leaderboard.ScopeRepository for PostgreSQL.
type ScopeRepository struct {
	conn *Connection
}

// NewScopeRepository creates a new ScopeRepository.
func NewScopeRepository(conn *Connection) *ScopeRepository {
	return &ScopeRepository{conn: conn}
}

// Save upserts the scope and adds members that are not stored yet.
// Members are never removed.
func (r *ScopeRepository) Save(ctx context.Context, scope *leaderboard.Scope) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scopes (id, kind, name, privacy_default, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				privacy_default = EXCLUDED.privacy_default
		`,
			scope.ID.String(),
			string(scope.Kind),
			scope.Name,
			string(scope.PrivacyDefault),
			scope.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}

		for _, m := range scope.Members {
			_, err := tx.Exec(ctx, `
				INSERT INTO scope_members (scope_id, user_id, display_name, joined_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (scope_id, user_id) DO NOTHING
			`, scope.ID.String(), m.UserID.String(), m.DisplayName, m.JoinedAt.UTC())
			if err != nil {
				return err
			}
		}
		return nil
	})
	return classify("SaveScope", err)
}

// FindByID returns the scope with its members or shared.ErrScopeNotFound.
func (r *ScopeRepository) FindByID(ctx context.Context, id string) (*leaderboard.Scope, error) {
	scopes, err := r.query(ctx, "FindScope", `WHERE s.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, shared.ErrScopeNotFound
	}
	return scopes[0], nil
}

// ListByMember returns scopes the user belongs to, ordered by ID.
func (r *ScopeRepository) ListByMember(ctx context.Context, userID string) ([]*leaderboard.Scope, error) {
	return r.query(ctx, "ListByMember",
		`WHERE s.id IN (SELECT scope_id FROM scope_members WHERE user_id = $1)`, userID)
}

// ListAll returns every scope ordered by ID.
func (r *ScopeRepository) ListAll(ctx context.Context) ([]*leaderboard.Scope, error) {
	return r.query(ctx, "ListScopes", "")
}

// query loads scopes matching where together with all their members.
func (r *ScopeRepository) query(ctx context.Context, op, where string, args ...interface{}) ([]*leaderboard.Scope, error) {
	query := `
		SELECT s.id, s.kind, s.name, s.privacy_default, s.created_at,
			   m.user_id, m.display_name, m.joined_at
		FROM scopes s
		LEFT JOIN scope_members m ON m.scope_id = s.id
		` + where + `
		ORDER BY s.id, m.joined_at, m.user_id
	`

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var scanned []scopeRow
	for rows.Next() {
		var row scopeRow
		if err := rows.Scan(
			&row.id, &row.kind, &row.name, &row.privacy, &row.createdAt,
			&row.memberID, &row.memberName, &row.joinedAt,
		); err != nil {
			return nil, classify(op, err)
		}
		scanned = append(scanned, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return groupScopes(scanned), nil
}

// scopeRow is one row of the scopes/scope_members join.
type scopeRow struct {
	id, kind, name, privacy string
	createdAt               time.Time

	// NULL when the scope has no members.
	memberID, memberName *string
	joinedAt             *time.Time
}

// groupScopes folds join rows ordered by scope ID into scopes.
func groupScopes(rows []scopeRow) []*leaderboard.Scope {
	out := make([]*leaderboard.Scope, 0)
	var current *leaderboard.Scope
	for _, row := range rows {
		if current == nil || current.ID.String() != row.id {
			current = &leaderboard.Scope{
				ID:             shared.ScopeID(row.id),
				Kind:           leaderboard.ScopeKind(row.kind),
				Name:           row.name,
				PrivacyDefault: shared.PrivacyLevel(row.privacy),
				Members:        make([]leaderboard.Member, 0),
				CreatedAt:      row.createdAt.UTC(),
			}
			out = append(out, current)
		}
		if row.memberID == nil {
			continue
		}
		m := leaderboard.Member{UserID: shared.UserID(*row.memberID)}
		if row.memberName != nil {
			m.DisplayName = *row.memberName
		}
		if row.joinedAt != nil {
			m.JoinedAt = row.joinedAt.UTC()
		}
		current.Members = append(current.Members, m)
	}
	return out
}
