package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Murzuq/Cash-Padi/shared/middleware"
)

func bearer(t *testing.T, userID string) string {
	t.Helper()
	claims := middleware.Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("gw-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + s
}

func TestWalletProxy(t *testing.T) {
	t.Setenv("JWT_SECRET", "gw-secret")
	gin.SetMode(gin.TestMode)

	var gotPath, gotUser, gotToken, gotBody, gotKey string
	wallet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotUser = r.Header.Get("X-User-ID")
		gotToken = r.Header.Get("X-Service-Token")
		gotKey = r.Header.Get("Idempotency-Key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Insufficient balance"}`))
	}))
	defer wallet.Close()

	router := newRouter(upstreams{wallet: wallet.URL}, wallet.Client(), zap.NewNop())

	body := `{"accountNumber":"0987654321","amount":10,"pin":"1234"}`
	req, _ := http.NewRequest("POST", "/v1/wallet/transfers?x=1", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, "usr-001"))
	req.Header.Set("X-User-ID", "usr-evil")
	req.Header.Set("X-Service-Token", "forged")
	req.Header.Set("Idempotency-Key", "k1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected upstream status 422, got %d", w.Code)
	}
	if gotPath != "/v1/wallet/transfers?x=1" || gotBody != body || gotKey != "k1" {
		t.Errorf("request not forwarded intact: path=%q body=%q key=%q", gotPath, gotBody, gotKey)
	}
	if gotUser != "usr-001" {
		t.Errorf("X-User-ID = %q, want token subject", gotUser)
	}
	if gotToken != "" {
		t.Error("client-supplied service token was forwarded")
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id")
	}
}

func TestWalletProxy_RequiresAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "gw-secret")
	gin.SetMode(gin.TestMode)
	router := newRouter(upstreams{wallet: "http://127.0.0.1:1"}, http.DefaultClient, zap.NewNop())

	req, _ := http.NewRequest("GET", "/v1/wallet/accounts/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestWalletProxy_UpstreamDown(t *testing.T) {
	t.Setenv("JWT_SECRET", "gw-secret")
	gin.SetMode(gin.TestMode)
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	router := newRouter(upstreams{wallet: url}, &http.Client{Timeout: time.Second}, zap.NewNop())

	req, _ := http.NewRequest("GET", "/v1/wallet/accounts/me", nil)
	req.Header.Set("Authorization", bearer(t, "usr-001"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
