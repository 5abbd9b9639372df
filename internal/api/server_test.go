package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/wallet-core/internal/algotest"
	"github.com/better-wallet/wallet-core/internal/app"
	"github.com/better-wallet/wallet-core/internal/backend"
	"github.com/better-wallet/wallet-core/internal/biometric"
	"github.com/better-wallet/wallet-core/internal/biometric/biometrictest"
	"github.com/better-wallet/wallet-core/internal/derivation"
	"github.com/better-wallet/wallet-core/internal/identity"
	"github.com/better-wallet/wallet-core/internal/keycache"
	"github.com/better-wallet/wallet-core/internal/keyexec"
	"github.com/better-wallet/wallet-core/internal/metrics"
	"github.com/better-wallet/wallet-core/internal/middleware"
	"github.com/better-wallet/wallet-core/internal/optin"
	"github.com/better-wallet/wallet-core/internal/session"
	"github.com/better-wallet/wallet-core/internal/sponsor"
	"github.com/better-wallet/wallet-core/internal/storage"
	"github.com/better-wallet/wallet-core/pkg/types"
)

const (
	testIssuer   = "https://accounts.google.com"
	testAudience = "client-id.apps.googleusercontent.com"
)

var sponsorRaw = []byte("backend-signed-sponsor")

type mockSubmission struct {
	mu     sync.Mutex
	groups []backend.SignedGroup
}

func (m *mockSubmission) Submit(_ context.Context, group backend.SignedGroup) (*types.SubmissionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, group)
	return &types.SubmissionResponse{Success: true, TransactionID: "TX", ConfirmedRound: 7}, nil
}

type mockPreparation struct {
	mu      sync.Mutex
	address string
}

func (m *mockPreparation) OptInStatus(_ context.Context, _ string, assetIDs []uint64) (*types.OptInStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &types.OptInStatus{Address: m.address, MissingAssets: assetIDs}, nil
}

func (m *mockPreparation) PrepareOptIns(_ context.Context, _ string, assetIDs []uint64) ([]types.WireBatchEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := []types.WireBatchEntry{{Type: "sponsor", Transaction: base64.StdEncoding.EncodeToString(sponsorRaw)}}
	for _, id := range assetIDs {
		entries = append(entries, types.WireBatchEntry{
			Type:        "opt-in",
			AssetID:     id,
			Transaction: base64.StdEncoding.EncodeToString(algotest.OptIn(m.address, id)),
		})
	}
	return entries, nil
}

func (m *mockPreparation) RegisterAddress(context.Context, string, string) error {
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	handler http.Handler
	clock   *fakeClock
	wallet  *app.WalletService
	auth    *biometrictest.Authenticator
	sub     *mockSubmission
	prep    *mockPreparation
	metrics *metrics.Metrics
	key     *rsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwks.Close)

	store := storage.NewMemoryStore()
	m := metrics.New()
	cache := keycache.New(derivation.NewEngine(), m)
	signer := keyexec.NewSigner(cache)
	resolver := session.NewResolver(storage.NewSessionRepository(store))
	auth := biometrictest.New()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	gate := biometric.NewGate(auth, storage.NewGuardRepository(store), biometric.Config{Enabled: true, Now: clock.Now}, m)
	sub := &mockSubmission{}
	prep := &mockPreparation{}
	submitter := sponsor.NewSubmitter(sub, sponsor.Config{Timeout: time.Second}, m)

	wallet := app.NewWalletService(app.Deps{
		Keys:      cache,
		Session:   resolver,
		Gate:      gate,
		Signer:    signer,
		Submitter: submitter,
		OptIns: optin.NewCoordinator(resolver, prep, signer, submitter,
			storage.NewOptInRepository(store), []uint64{31566704, 3198568509}, m),
		Addresses: storage.NewAddressRepository(store),
		Verifier: identity.NewVerifier(testAudience, map[types.Provider]identity.ProviderConfig{
			types.ProviderGoogle: {Issuers: []string{testIssuer}, JWKSURI: jwks.URL},
		}),
	})

	srv := NewServer(Config{Addr: "127.0.0.1:0", RateLimitRPS: 1000, RateLimitBurst: 1000}, wallet, m)
	return &testEnv{
		handler: srv.Handler(),
		clock:   clock,
		wallet:  wallet,
		auth:    auth,
		sub:     sub,
		prep:    prep,
		metrics: m,
		key:     key,
	}
}

func (e *testEnv) idToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(e.key)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// signIn signs in through the bridge and returns the personal address
func (e *testEnv) signIn(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/session/sign-in", SignInRequest{Provider: "google", IDToken: e.idToken(t, "user-1")})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodGet, "/v1/wallet/address", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	e.prep.mu.Lock()
	e.prep.address = resp.Address
	e.prep.mu.Unlock()
	return resp.Address
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) middleware.ErrorBody {
	t.Helper()
	var body middleware.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.HeaderRequestID))
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)

	rr := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `wallet_core_http_requests_total{method="GET",path="GET /health",status="200"} 1`)
}

func TestSession(t *testing.T) {
	t.Run("sign in returns the session without the subject", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/v1/session/sign-in", SignInRequest{Provider: "google", IDToken: env.idToken(t, "user-1")})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.NotContains(t, rr.Body.String(), "user-1")

		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, testIssuer, resp.Issuer)
		assert.Equal(t, types.AccountTypePersonal, resp.Account.AccountType)

		rr = env.do(t, http.MethodGet, "/v1/session", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/v1/session/sign-in", SignInRequest{Provider: "google", IDToken: "not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "unauthorized", decodeError(t, rr).Code)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/v1/session/sign-in", SignInRequest{Provider: "github", IDToken: "x"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "provider")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodPost, "/v1/session/sign-in", map[string]string{"provider": "google", "id_token": "x", "subject": "y"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("no session", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(t, http.MethodGet, "/v1/session", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NotEmpty(t, decodeError(t, rr).UserMessage)
	})

	t.Run("sign out", func(t *testing.T) {
		env := newTestEnv(t)
		env.signIn(t)

		rr := env.do(t, http.MethodPost, "/v1/session/sign-out", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		rr = env.do(t, http.MethodGet, "/v1/wallet/address", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestSwitchAccount(t *testing.T) {
	env := newTestEnv(t)
	personal := env.signIn(t)

	rr := env.do(t, http.MethodPost, "/v1/session/switch", SwitchAccountRequest{
		AccountType: "business", BusinessID: "biz-1", Role: "owner",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/v1/wallet/address", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEqual(t, personal, resp.Address)

	t.Run("business requires role", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/session/switch", SwitchAccountRequest{AccountType: "business", BusinessID: "biz-1"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("employee cannot read the business address", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/session/switch", SwitchAccountRequest{
			AccountType: "business", BusinessID: "biz-1", Role: "employee",
		})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = env.do(t, http.MethodGet, "/v1/wallet/address", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "permission_denied", body.Code)
		assert.Equal(t, "Only the business owner can do this.", body.UserMessage)
	})
}

func TestSign(t *testing.T) {
	t.Run("value moving", func(t *testing.T) {
		env := newTestEnv(t)
		address := env.signIn(t)

		rr := env.do(t, http.MethodPost, "/v1/wallet/sign", SignRequest{
			Transaction: base64.StdEncoding.EncodeToString(algotest.Payment(address, 5)),
			ValueMoving: true,
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp SignResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		signed, err := base64.StdEncoding.DecodeString(resp.SignedTransaction)
		require.NoError(t, err)
		assert.True(t, algotest.Verify(algotest.PublicKey(address), signed))
		assert.Equal(t, 1, env.auth.Prompts())
	})

	t.Run("denied prompt", func(t *testing.T) {
		env := newTestEnv(t)
		address := env.signIn(t)
		env.auth.SetOutcome(biometric.OutcomeDenied)

		rr := env.do(t, http.MethodPost, "/v1/wallet/sign", SignRequest{
			Transaction: base64.StdEncoding.EncodeToString(algotest.Payment(address, 5)),
			ValueMoving: true,
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "auth_denied", body.Code)
		assert.Equal(t, "Authentication failed. Tap to try again.", body.UserMessage)
	})

	t.Run("payment flagged as not value moving is still gated", func(t *testing.T) {
		env := newTestEnv(t)
		address := env.signIn(t)
		env.auth.SetOutcome(biometric.OutcomeDenied)

		rr := env.do(t, http.MethodPost, "/v1/wallet/sign", SignRequest{
			Transaction: base64.StdEncoding.EncodeToString(algotest.Payment(address, 5)),
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "auth_denied", decodeError(t, rr).Code)
		assert.Equal(t, 1, env.auth.Prompts())
	})

	t.Run("invalid base64", func(t *testing.T) {
		env := newTestEnv(t)
		env.signIn(t)

		rr := env.do(t, http.MethodPost, "/v1/wallet/sign", SignRequest{Transaction: "%%%"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "transaction")
	})
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	address := env.signIn(t)

	rr := env.do(t, http.MethodPost, "/v1/wallet/submit", SubmitRequest{
		SponsorTransaction: base64.StdEncoding.EncodeToString(sponsorRaw),
		Transactions:       []string{base64.StdEncoding.EncodeToString(algotest.Payment(address, 5))},
		Sign:               true,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var outcome types.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcome))
	assert.Equal(t, types.OutcomeConfirmed, outcome.Status)
	assert.Equal(t, "TX", outcome.TxID)

	env.sub.mu.Lock()
	defer env.sub.mu.Unlock()
	require.Len(t, env.sub.groups, 1)
	assert.Equal(t, sponsorRaw, env.sub.groups[0].SponsorTxn)
	require.Len(t, env.sub.groups[0].UserTxns, 1)
	assert.True(t, algotest.Verify(algotest.PublicKey(address), env.sub.groups[0].UserTxns[0]))
}

func TestSubmit_TooManyTransactions(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	txns := make([]string, maxGroupSize+1)
	for i := range txns {
		txns[i] = base64.StdEncoding.EncodeToString([]byte{byte(i)})
	}
	rr := env.do(t, http.MethodPost, "/v1/wallet/submit", SubmitRequest{
		SponsorTransaction: base64.StdEncoding.EncodeToString(sponsorRaw),
		Transactions:       txns,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOptIn(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	rr := env.do(t, http.MethodPost, "/v1/wallet/opt-in", OptInRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result types.OptInResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, types.OptInSatisfied, result.State)

	rr = env.do(t, http.MethodPost, "/v1/wallet/opt-in", OptInRequest{TargetID: result.TargetID})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.FromCache)

	rr = env.do(t, http.MethodPost, "/v1/wallet/opt-in/invalidate", OptInRequest{TargetID: result.TargetID})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/wallet/opt-in/invalidate", OptInRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBiometric(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	env.auth.SetOutcome(biometric.OutcomeLockout)
	rr := env.do(t, http.MethodPost, "/v1/auth/biometric", AuthenticateRequest{Reason: "Confirm send"})
	assert.Equal(t, http.StatusLocked, rr.Code)
	assert.Contains(t, decodeError(t, rr).UserMessage, "passcode")

	rr = env.do(t, http.MethodGet, "/v1/auth/biometric", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var state types.AuthGateState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.True(t, state.LockedOut)

	rr = env.do(t, http.MethodPost, "/v1/auth/biometric/clear-lockout", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, env.wallet.BiometricState().LockedOut)

	env.auth.SetOutcome(biometric.OutcomeSuccess)
	env.clock.Advance(time.Minute)
	rr = env.do(t, http.MethodPost, "/v1/auth/biometric", AuthenticateRequest{Reason: "Confirm send"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"authenticated":true}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/v1/auth/biometric", AuthenticateRequest{Reason: strings.Repeat("x", 201)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
