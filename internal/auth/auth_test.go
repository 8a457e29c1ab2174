package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/supportdesk/triage-service/pkg/util/errorutil"
)

func TestIssueAndParse(t *testing.T) {
	tm := NewTokenManager("secret", 30)

	token, expiresAt, err := tm.Issue("ops@example.com", RoleAgent)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, 5*time.Second)

	claims, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, RoleAgent, claims.Role)
	assert.Equal(t, TokenIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestParseRejects(t *testing.T) {
	tm := NewTokenManager("secret", 30)
	token, _, err := tm.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewTokenManager("other", 30).Parse(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
	t.Run("expired", func(t *testing.T) {
		late := NewTokenManager("secret", 30)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Parse(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := tm.Parse("not-a-token")
		assert.Error(t, err)
	})
}

func TestIssueValidatesInput(t *testing.T) {
	tm := NewTokenManager("secret", 0)
	_, _, err := tm.Issue("", RoleAdmin)
	assert.Error(t, err)
	_, _, err = tm.Issue("ops", Role("root"))
	assert.Error(t, err)
}

func newProtectedApp(tm *TokenManager, roles ...Role) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			domainErr := apperrors.ToDomainError(err)
			return c.Status(domainErr.HTTPStatus).SendString(domainErr.Code)
		},
	})
	app.Get("/ops", NewAuthMiddleware(tm).Handle, RequireRole(roles...), func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		return c.SendString(principal.Subject)
	})
	return app
}

func TestMiddlewareEnforcesRoles(t *testing.T) {
	tm := NewTokenManager("secret", 30)
	app := newProtectedApp(tm, RoleAdmin)
	agentToken, _, err := tm.Issue("agent-1", RoleAgent)
	require.NoError(t, err)
	adminToken, _, err := tm.Issue("admin-1", RoleAdmin)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"agent on admin route", "Bearer " + agentToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAdminPassesAgentRoutes(t *testing.T) {
	tm := NewTokenManager("secret", 30)
	app := newProtectedApp(tm, RoleAgent)
	adminToken, _, err := tm.Issue("admin-1", RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ops", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+adminToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
