package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"bitstable/currency"
	"bitstable/oracle"
	"bitstable/reserves"
	"bitstable/vault"
)

type fakeVaultLister struct {
	vaults []*vault.Vault
}

func (f *fakeVaultLister) List() ([]*vault.Vault, error) { return f.vaults, nil }

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	v := &vault.Vault{State: vault.Active, Debts: currency.NewDebt()}
	v.Debts.Set(currency.USD, 100)

	agg := oracle.NewAggregator(oracle.DefaultBreakerConfig())
	return &Provider{
		Vaults:   &fakeVaultLister{vaults: []*vault.Vault{v}},
		Oracle:   agg,
		Reserves: reserves.New(),
	}
}

func TestHealthzIsAlwaysUnauthenticated(t *testing.T) {
	router := NewRouter(newTestProvider(t), AuthConfig{Enabled: true, HMACSecret: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusRequiresBearerTokenWhenAuthEnabled(t *testing.T) {
	router := NewRouter(newTestProvider(t), AuthConfig{Enabled: true, HMACSecret: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/status/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusAcceptsValidBearerToken(t *testing.T) {
	secret := "secret"
	router := NewRouter(newTestProvider(t), AuthConfig{Enabled: true, HMACSecret: secret})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 1, snap.VaultsByState["active"])
}

func TestStatusSkipsAuthWhenDisabled(t *testing.T) {
	router := NewRouter(newTestProvider(t), AuthConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodGet, "/status/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	router := NewRouter(newTestProvider(t), AuthConfig{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
