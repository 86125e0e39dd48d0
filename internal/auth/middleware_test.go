package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(m *Manager, adminSecret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(m, adminSecret))

	r.GET("/accounts/:id/balance", RequireOwnership("id"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"account": c.Param("id")})
	})
	r.GET("/whoami", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"account": AuthenticatedAccount(c)})
	})
	r.GET("/admin/ping", RequirePrivileged(func(ctx context.Context, accountID string) (bool, error) {
		return accountID == "acc_priv", nil
	}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": Actor(c)})
	})
	return r
}

func doRequest(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	m := NewManager(NewMemoryStore())
	raw, _, err := m.GenerateKey(context.Background(), "acc_1", "test")
	require.NoError(t, err)
	r := newTestRouter(m, "")

	w := doRequest(r, "/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, "/whoami", map[string]string{"Authorization": "Bearer " + raw})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acc_1")

	// X-API-Key header also works
	w = doRequest(r, "/whoami", map[string]string{"X-API-Key": raw})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, "/whoami", map[string]string{"Authorization": "Bearer sk_bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireOwnership(t *testing.T) {
	m := NewManager(NewMemoryStore())
	raw, _, err := m.GenerateKey(context.Background(), "acc_1", "test")
	require.NoError(t, err)
	r := newTestRouter(m, "topsecret")

	w := doRequest(r, "/accounts/acc_1/balance", map[string]string{"Authorization": "Bearer " + raw})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, "/accounts/acc_2/balance", map[string]string{"Authorization": "Bearer " + raw})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, "/accounts/acc_1/balance", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The admin secret reaches any account's resources
	w = doRequest(r, "/accounts/acc_2/balance", map[string]string{"X-Admin-Secret": "topsecret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePrivileged(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()
	rawStd, _, err := m.GenerateKey(ctx, "acc_std", "test")
	require.NoError(t, err)
	rawPriv, _, err := m.GenerateKey(ctx, "acc_priv", "test")
	require.NoError(t, err)
	r := newTestRouter(m, "topsecret")

	w := doRequest(r, "/admin/ping", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, "/admin/ping", map[string]string{"Authorization": "Bearer " + rawStd})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, "/admin/ping", map[string]string{"Authorization": "Bearer " + rawPriv})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acc_priv")

	w = doRequest(r, "/admin/ping", map[string]string{"X-Admin-Secret": "topsecret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin_secret")

	w = doRequest(r, "/admin/ping", map[string]string{"X-Admin-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
