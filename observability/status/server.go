// Package status serves the internal read-only HTTP surface named in
// SPEC_FULL.md §D: a liveness probe, a Prometheus scrape endpoint, and a
// JWT-gated JSON snapshot of protocol state, in the style of the teacher's
// gateway/routes router and gateway/middleware JWT authenticator.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bitstable/oracle"
	"bitstable/reserves"
	"bitstable/vault"
)

// AuthConfig mirrors the teacher's gateway JWT authenticator: disabled by
// default (useful for local/dev status checks), HMAC-signed bearer tokens
// otherwise.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

func (cfg AuthConfig) middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			skew := cfg.ClockSkew
			if skew <= 0 {
				skew = 2 * time.Minute
			}
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(cfg.HMACSecret), nil
			}, jwt.WithLeeway(skew))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if cfg.Issuer != "" {
				if iss, _ := claims["iss"].(string); iss != cfg.Issuer {
					http.Error(w, "issuer mismatch", http.StatusUnauthorized)
					return
				}
			}
			if cfg.Audience != "" {
				if aud, _ := claims["aud"].(string); aud != cfg.Audience {
					http.Error(w, "audience mismatch", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// VaultLister is the narrow view of the vault manager the status snapshot
// needs, matching the facade's own narrow-interface composition style.
type VaultLister interface {
	List() ([]*vault.Vault, error)
}

// Snapshot is the JSON body served at /status.
type Snapshot struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	VaultsByState    map[string]int `json:"vaults_by_state"`
	TotalDebtUSD     float64        `json:"total_debt_usd"`
	SystemCR         float64        `json:"system_collateral_ratio,omitempty"`
	LastReserveBlock uint64         `json:"last_reserve_block,omitempty"`
	OracleSources    int            `json:"oracle_sources_registered"`
}

// Provider supplies the live components a status snapshot reads from.
type Provider struct {
	Vaults   VaultLister
	Oracle   *oracle.Aggregator
	Reserves *reserves.System
}

func (p *Provider) snapshot() (Snapshot, error) {
	snap := Snapshot{
		GeneratedAt:   time.Now().UTC(),
		VaultsByState: map[string]int{},
	}
	vaults, err := p.Vaults.List()
	if err != nil {
		return snap, err
	}
	rates := p.Oracle.RatesSnapshot()
	for _, v := range vaults {
		snap.VaultsByState[v.State.String()]++
		if rates != nil {
			if usd, err := v.Debts.TotalInUSD(rates); err == nil {
				snap.TotalDebtUSD += usd
			}
		}
	}
	if commitment, ok := p.Reserves.Current(); ok {
		snap.SystemCR = commitment.SystemCR
		snap.LastReserveBlock = commitment.BlockHeight
	}
	return snap, nil
}

// NewRouter builds the status HTTP surface: an unauthenticated /healthz,
// an unauthenticated Prometheus /metrics, and a JWT-gated /status.
func NewRouter(provider *Provider, auth AuthConfig) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/status", func(sr chi.Router) {
		sr.Use(auth.middleware())
		sr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			snap, err := provider.snapshot()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
		})
	})

	return r
}

// Serve runs the status HTTP surface until ctx is cancelled.
func Serve(ctx context.Context, addr string, provider *Provider, auth AuthConfig) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(NewRouter(provider, auth), "bitstabled-status"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
