package account

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastwheelz/backend/internal/auth"
	"github.com/blastwheelz/backend/internal/ledger"
)

const wallet = "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type testEnv struct {
	router *gin.Engine
	store  *MemoryStore
	keys   *auth.Manager
	ledger *ledger.Ledger
}

func newTestEnv(t *testing.T, bonus string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	keys := auth.NewManager(auth.NewMemoryStore())
	lgr := ledger.New(ledger.NewMemoryStore())

	b, err := decimal.NewFromString(bonus)
	require.NoError(t, err)

	h := NewHandler(store, keys, lgr, b, slog.Default())
	r := gin.New()
	r.Use(auth.Middleware(keys, ""))
	h.RegisterRoutes(r.Group("/v1"))

	return &testEnv{router: r, store: store, keys: keys, ledger: lgr}
}

func (e *testEnv) do(t *testing.T, method, path, apiKey string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	out := map[string]json.RawMessage{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func register(t *testing.T, e *testEnv, handle string) (accountID, apiKey string) {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/v1/accounts", "", RegisterRequest{Handle: handle})
	require.Equal(t, http.StatusCreated, w.Code)

	var a Account
	require.NoError(t, json.Unmarshal(out["account"], &a))
	require.NoError(t, json.Unmarshal(out["apiKey"], &apiKey))
	return a.ID, apiKey
}

func TestRegisterCreditsWelcomeBonusOnce(t *testing.T) {
	e := newTestEnv(t, "500")

	w, out := e.do(t, http.MethodPost, "/v1/accounts", "", RegisterRequest{Handle: "speedy", WalletAddress: wallet})
	require.Equal(t, http.StatusCreated, w.Code)

	var a Account
	require.NoError(t, json.Unmarshal(out["account"], &a))
	assert.Equal(t, "speedy", a.Handle)
	assert.Equal(t, wallet, a.WalletAddress)
	assert.Equal(t, RoleStandard, a.Role)
	assert.JSONEq(t, `"500"`, string(out["balance"]))

	history, err := e.ledger.History(t.Context(), a.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1, "exactly one bonus record")
	assert.Equal(t, ledger.KindDeposit, history[0].Kind)
	assert.Equal(t, "welcome_bonus", history[0].Metadata[ledger.MetaCause])
}

func TestRegisterZeroBonusWritesNoRecord(t *testing.T) {
	e := newTestEnv(t, "0")

	id, _ := register(t, e, "frugal")
	history, err := e.ledger.History(t.Context(), id, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t, "500")

	w, _ := e.do(t, http.MethodPost, "/v1/accounts", "", RegisterRequest{Handle: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/v1/accounts", "", RegisterRequest{Handle: "okname", WalletAddress: "0x123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	register(t, e, "taken")
	w, _ = e.do(t, http.MethodPost, "/v1/accounts", "", RegisterRequest{Handle: "TAKEN"})
	assert.Equal(t, http.StatusConflict, w.Code, "handles are case-insensitive")
}

func TestGetRequiresOwnership(t *testing.T) {
	e := newTestEnv(t, "500")
	id, key := register(t, e, "owner")
	_, otherKey := register(t, e, "other")

	w, out := e.do(t, http.MethodGet, "/v1/accounts/"+id, key, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"500"`, string(out["balance"]))

	w, _ = e.do(t, http.MethodGet, "/v1/accounts/"+id, otherKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = e.do(t, http.MethodGet, "/v1/accounts/"+id, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLinkWallet(t *testing.T) {
	e := newTestEnv(t, "0")
	id, key := register(t, e, "linker")

	w, out := e.do(t, http.MethodPost, "/v1/accounts/"+id+"/wallet", key, LinkWalletRequest{WalletAddress: wallet})
	require.Equal(t, http.StatusOK, w.Code)

	var a Account
	require.NoError(t, json.Unmarshal(out["account"], &a))
	assert.Equal(t, wallet, a.WalletAddress)

	// Second account cannot claim the same wallet.
	id2, key2 := register(t, e, "squatter")
	w, _ = e.do(t, http.MethodPost, "/v1/accounts/"+id2+"/wallet", key2, LinkWalletRequest{WalletAddress: wallet})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestKeyLifecycle(t *testing.T) {
	e := newTestEnv(t, "0")
	id, key := register(t, e, "keyser")

	w, out := e.do(t, http.MethodPost, "/v1/accounts/"+id+"/keys", key, CreateKeyRequest{Name: "ci"})
	require.Equal(t, http.StatusCreated, w.Code)

	var issued auth.APIKey
	require.NoError(t, json.Unmarshal(out["key"], &issued))

	w, _ = e.do(t, http.MethodGet, "/v1/accounts/"+id+"/keys", key, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w, _ = e.do(t, http.MethodDelete, "/v1/accounts/"+id+"/keys/"+issued.ID, key, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodDelete, "/v1/accounts/"+id+"/keys/ak_missing", key, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateKeyTruncatesLongName(t *testing.T) {
	e := newTestEnv(t, "0")
	id, key := register(t, e, "verbose")

	long := strings.Repeat("x", 100)
	w, out := e.do(t, http.MethodPost, "/v1/accounts/"+id+"/keys", key, CreateKeyRequest{Name: long})
	require.Equal(t, http.StatusCreated, w.Code)

	var issued auth.APIKey
	require.NoError(t, json.Unmarshal(out["key"], &issued))
	assert.Equal(t, strings.Repeat("x", 64), issued.Name)
}

func TestIsPrivileged(t *testing.T) {
	e := newTestEnv(t, "0")
	id, _ := register(t, e, "adminish")

	h := NewHandler(e.store, e.keys, e.ledger, decimal.Zero, slog.Default())

	ok, err := h.IsPrivileged(t.Context(), id)
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := e.store.Get(t.Context(), id)
	require.NoError(t, err)
	a.Role = RolePrivileged
	require.NoError(t, e.store.Update(t.Context(), a))

	ok, err = h.IsPrivileged(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.IsPrivileged(t.Context(), "acc_missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
