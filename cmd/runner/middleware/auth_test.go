package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/repository"
)

func authSetup(t *testing.T) (pgxmock.PgxPoolIface, echo.MiddlewareFunc) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)

	users := repository.NewUserRepository(mock)
	log := logger.New("error", "text")
	return mock, AuthMiddleware(users, log)
}

func runAuth(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, echo.Context) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	_ = handler(c)
	return rec, c
}

func TestAuthMiddleware_APIKey(t *testing.T) {
	mock, mw := authSetup(t)
	mock.ExpectQuery("SELECT user_id FROM api_keys").
		WithArgs("sk-live-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-1"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "sk-live-1")

	rec, c := runAuth(mw, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c.Get(ContextUserID) != "user-1" {
		t.Errorf("user id = %v", c.Get(ContextUserID))
	}
	if c.Get(ContextAuthMode) != AuthModeAPIKey {
		t.Errorf("auth mode = %v", c.Get(ContextAuthMode))
	}
}

func TestAuthMiddleware_UnknownAPIKey(t *testing.T) {
	mock, mw := authSetup(t)
	mock.ExpectQuery("SELECT user_id FROM api_keys").
		WithArgs("sk-bogus").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "sk-bogus")

	rec, _ := runAuth(mw, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid API key") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuthMiddleware_SessionCookie(t *testing.T) {
	mock, mw := authSetup(t)
	mock.ExpectQuery("SELECT user_id FROM sessions").
		WithArgs("tok-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-2"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok-1"})

	rec, c := runAuth(mw, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c.Get(ContextUserID) != "user-2" || c.Get(ContextAuthMode) != AuthModeSession {
		t.Errorf("context = %v / %v", c.Get(ContextUserID), c.Get(ContextAuthMode))
	}
}

func TestAuthMiddleware_ExpiredSession(t *testing.T) {
	mock, mw := authSetup(t)
	mock.ExpectQuery("SELECT user_id FROM sessions").
		WithArgs("tok-stale").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok-stale"})

	rec, _ := runAuth(mw, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session expired") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuthMiddleware_NoCredentials(t *testing.T) {
	_, mw := authSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec, _ := runAuth(mw, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authentication required") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// API key takes precedence over a session cookie when both are present.
func TestAuthMiddleware_APIKeyWinsOverCookie(t *testing.T) {
	mock, mw := authSetup(t)
	mock.ExpectQuery("SELECT user_id FROM api_keys").
		WithArgs("sk-live-2").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-3"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "sk-live-2")
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok-ignored"})

	rec, c := runAuth(mw, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c.Get(ContextAuthMode) != AuthModeAPIKey {
		t.Errorf("auth mode = %v", c.Get(ContextAuthMode))
	}
}
