package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/config"
	"github.com/jes11sy/realtime-service/internal/gateway"
	"github.com/jes11sy/realtime-service/internal/token"
)

const (
	testSecret        = "api-test-jwt-secret-minimum-32-chars!!"
	testWebhookSecret = "webhook-shared-secret"
)

func testConfig() *config.Config {
	return &config.Config{
		AuthGrace:     10 * time.Second,
		SweepInterval: time.Minute,
		PingInterval:  25 * time.Second,
		PingTimeout:   60 * time.Second,
		MaxFrameBytes: 1 << 20,
	}
}

func newTestHub() *gateway.Hub {
	v := token.NewVerifier(testSecret, testSecret)
	return gateway.NewHub(testConfig(), v, nil, zerolog.Nop())
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func userToken(t *testing.T, userID int64, role string) string {
	t.Helper()
	claims := token.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode response data: %v", err)
		}
	}
}
