package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/simstudio/runner/common/ratelimit"
)

// UserRepository resolves user identity and billing plan.
type UserRepository struct {
	db Querier
}

// NewUserRepository creates a user repository.
func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

// LookupPlan returns the billing plan for a user, defaulting to free when
// no subscription row exists.
func (r *UserRepository) LookupPlan(ctx context.Context, userID string) (ratelimit.Plan, error) {
	var plan string
	err := r.db.QueryRow(ctx,
		`SELECT plan FROM subscriptions WHERE user_id = $1 AND status = 'active'`,
		userID,
	).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return ratelimit.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup plan for %s: %w", userID, err)
	}
	switch p := ratelimit.Plan(plan); p {
	case ratelimit.PlanFree, ratelimit.PlanPro, ratelimit.PlanTeam, ratelimit.PlanEnterprise:
		return p, nil
	default:
		return ratelimit.PlanFree, nil
	}
}

// LookupUserByAPIKey resolves the owning user of an API key. Returns
// ErrNotFound when the key is unknown.
func (r *UserRepository) LookupUserByAPIKey(ctx context.Context, apiKey string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM api_keys WHERE key = $1`,
		apiKey,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	return userID, nil
}

// LookupUserBySession resolves the user for a session token. Returns
// ErrNotFound for expired or unknown sessions.
func (r *UserRepository) LookupUserBySession(ctx context.Context, token string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	return userID, nil
}
