package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/simstudio/runner/common/ratelimit"
)

func TestLookupPlan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT plan FROM subscriptions`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"plan"}).AddRow("pro"))

	repo := NewUserRepository(mock)
	plan, err := repo.LookupPlan(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("LookupPlan failed: %v", err)
	}
	if plan != ratelimit.PlanPro {
		t.Errorf("plan = %s, want pro", plan)
	}
}

func TestLookupPlan_Defaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	// No subscription row: free.
	mock.ExpectQuery(`SELECT plan FROM subscriptions`).
		WithArgs("user-2").
		WillReturnRows(pgxmock.NewRows([]string{"plan"}))

	// Unknown plan string: free.
	mock.ExpectQuery(`SELECT plan FROM subscriptions`).
		WithArgs("user-3").
		WillReturnRows(pgxmock.NewRows([]string{"plan"}).AddRow("platinum"))

	repo := NewUserRepository(mock)
	for _, userID := range []string{"user-2", "user-3"} {
		plan, err := repo.LookupPlan(context.Background(), userID)
		if err != nil {
			t.Fatalf("LookupPlan(%s) failed: %v", userID, err)
		}
		if plan != ratelimit.PlanFree {
			t.Errorf("LookupPlan(%s) = %s, want free", userID, plan)
		}
	}
}

func TestLookupUserByAPIKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT user_id FROM api_keys`).
		WithArgs("key-abc").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-1"))
	mock.ExpectQuery(`SELECT user_id FROM api_keys`).
		WithArgs("bogus").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))

	repo := NewUserRepository(mock)

	userID, err := repo.LookupUserByAPIKey(context.Background(), "key-abc")
	if err != nil || userID != "user-1" {
		t.Errorf("LookupUserByAPIKey = %q, %v", userID, err)
	}

	_, err = repo.LookupUserByAPIKey(context.Background(), "bogus")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown key error = %v, want ErrNotFound", err)
	}
}

func TestLookupUserBySession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT user_id FROM sessions`).
		WithArgs("tok-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-9"))

	repo := NewUserRepository(mock)
	userID, err := repo.LookupUserBySession(context.Background(), "tok-1")
	if err != nil || userID != "user-9" {
		t.Errorf("LookupUserBySession = %q, %v", userID, err)
	}
}
