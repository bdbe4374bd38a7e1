package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bidcore/engine"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testIssuer   = "bidcore-test"
	testAudience = "bidcore"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server     *Server
	router     *gin.Engine
	clock      *engine.ManualClock
	privateKey ed25519.PrivateKey
}

// setupServer 建立單機模式的伺服器，事件只在本地分送
func setupServer(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	clock := engine.NewManualClock(t0)
	opts = append([]ServerOption{WithServerClock(clock)}, opts...)
	server, err := NewServer(ServerConfig{
		ID: "test",
		Auth: AuthConfig{
			PublicKey: publicKey,
			Issuer:    testIssuer,
			Audience:  testAudience,
		},
		Engine: EngineConfig{SweepInterval: time.Hour},
	}, opts...)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Close)

	router := gin.New()
	server.RegisterRoutes(router)
	return &testEnv{server: server, router: router, clock: clock, privateKey: privateKey}
}

func signToken(t *testing.T, key ed25519.PrivateKey, claims JWT) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(subject string) JWT {
	now := time.Now()
	return JWT{
		Username: "tester",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func (env *testEnv) token(t *testing.T, user uuid.UUID) string {
	return signToken(t, env.privateKey, validClaims(user.String()))
}

// do 送出請求，token 為空時不帶 Authorization
func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// createItem 以 seller 的身份建立商品並回傳 ID
func (env *testEnv) createItem(t *testing.T, seller uuid.UUID, body map[string]any) uuid.UUID {
	t.Helper()
	w := env.do(t, http.MethodPost, "/auction/item", env.token(t, seller), body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[ItemResponse](t, w).ID
}

func forwardBody(duration time.Duration) map[string]any {
	return map[string]any{
		"title":                 "Vintage camera",
		"description":           "Rangefinder, 1962",
		"type":                  "FORWARD",
		"startingPrice":         "50.00",
		"endTime":               t0.Add(duration).Format(time.RFC3339),
		"standardShippingCost":  "10.00",
		"expeditedShippingCost": "15.00",
	}
}

func dutchBody(duration time.Duration) map[string]any {
	return map[string]any{
		"title":                        "Tulip bulbs",
		"type":                         "DUTCH",
		"startingPrice":                "100.00",
		"endTime":                      t0.Add(duration).Format(time.RFC3339),
		"dutchDecreasePercentage":      "10",
		"dutchDecreaseIntervalSeconds": 60,
		"standardShippingCost":         "5.00",
		"expeditedShippingCost":        "7.50",
	}
}
