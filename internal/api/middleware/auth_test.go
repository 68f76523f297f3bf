package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-rm"

// mockRegistrar — мок PrincipalRegistrar.
type mockRegistrar struct {
	mu         sync.Mutex
	registered []model.Principal
	err        error
}

func (m *mockRegistrar) Register(_ context.Context, p model.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, p)
	return m.err
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с keyfunc из тестового ключа.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey, registrar PrincipalRegistrar) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, 5*time.Second, registrar, testLogger())
}

// generateToken генерирует подписанный JWT.
func generateToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// userClaims — claims пользователя с заданным сроком действия.
func userClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "alice",
		"name":               "Alice Liddell",
		"wallet_address":     "0xA11CE",
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
}

// serveWithToken прогоняет запрос с заголовком Authorization.
func serveWithToken(auth *JWTAuth, header string, next http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	auth.Middleware()(next).ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- Тесты JWT Middleware ---

// TestJWTAuth_ValidToken — валидный токен: claims в контексте, principal зарегистрирован.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	registrar := &mockRegistrar{}
	auth := newTestJWTAuth(t, key, registrar)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("claims не найдены в контексте")
		}
		if claims.Subject != "u-alice" {
			t.Errorf("ожидался sub=u-alice, получен %s", claims.Subject)
		}
		if claims.PreferredUsername != "alice" {
			t.Errorf("ожидался username=alice, получен %s", claims.PreferredUsername)
		}
		if claims.WalletAddress != "0xA11CE" {
			t.Errorf("ожидался wallet=0xA11CE, получен %s", claims.WalletAddress)
		}
		if SubjectFromContext(r.Context()) != "u-alice" {
			t.Errorf("SubjectFromContext вернул %q", SubjectFromContext(r.Context()))
		}
		w.WriteHeader(http.StatusOK)
	})

	token := generateToken(t, key, userClaims("u-alice", time.Now().Add(time.Hour)))
	rec := serveWithToken(auth, "Bearer "+token, handler)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if len(registrar.registered) != 1 {
		t.Fatalf("ожидалась 1 регистрация, получено %d", len(registrar.registered))
	}
	p := registrar.registered[0]
	if p.PrincipalID != "u-alice" || p.Username != "alice" || p.DisplayName != "Alice Liddell" {
		t.Errorf("неожиданный principal: %+v", p)
	}
}

// TestJWTAuth_RegistrarError — ошибка справочника не блокирует запрос.
func TestJWTAuth_RegistrarError(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, &mockRegistrar{err: errors.New("справочник недоступен")})

	token := generateToken(t, key, userClaims("u-alice", time.Now().Add(time.Hour)))
	rec := serveWithToken(auth, "Bearer "+token, okHandler())

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

// TestJWTAuth_NilRegistrar — регистрация не обязательна.
func TestJWTAuth_NilRegistrar(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, nil)

	token := generateToken(t, key, userClaims("u-bob", time.Now().Add(time.Hour)))
	rec := serveWithToken(auth, "Bearer "+token, okHandler())

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

// TestJWTAuth_Rejected — отказ по различным причинам.
func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key, nil)

	noExp := jwt.MapClaims{"sub": "u-alice", "iat": jwt.NewNumericDate(time.Now())}
	noSub := jwt.MapClaims{"exp": jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not-a-jwt"},
		{"просроченный", "Bearer " + generateToken(t, key, userClaims("u-alice", time.Now().Add(-time.Hour)))},
		{"чужой ключ", "Bearer " + generateToken(t, otherKey, userClaims("u-alice", time.Now().Add(time.Hour)))},
		{"без exp", "Bearer " + generateToken(t, key, noExp)},
		{"без sub", "Bearer " + generateToken(t, key, noSub)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			rec := serveWithToken(auth, tt.header, next)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
			if called {
				t.Error("следующий обработчик не должен вызываться")
			}

			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования ответа: %v", err)
			}
			if body.Error.Code != "UNAUTHORIZED" {
				t.Errorf("ожидался код UNAUTHORIZED, получен %s", body.Error.Code)
			}
		})
	}
}

// TestJWTAuth_Issuer — при заданном issuer чужой iss отклоняется.
func TestJWTAuth_Issuer(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, nil)
	auth.issuer = "https://idp.test/realms/records"

	good := userClaims("u-alice", time.Now().Add(time.Hour))
	good["iss"] = "https://idp.test/realms/records"
	bad := userClaims("u-alice", time.Now().Add(time.Hour))
	bad["iss"] = "https://evil.test"

	if rec := serveWithToken(auth, "Bearer "+generateToken(t, key, good), okHandler()); rec.Code != http.StatusOK {
		t.Errorf("верный issuer: ожидался 200, получен %d", rec.Code)
	}
	if rec := serveWithToken(auth, "Bearer "+generateToken(t, key, bad), okHandler()); rec.Code != http.StatusUnauthorized {
		t.Errorf("чужой issuer: ожидался 401, получен %d", rec.Code)
	}
}

// TestClaimsFromContext_Empty — без claims возвращается nil.
func TestClaimsFromContext_Empty(t *testing.T) {
	if ClaimsFromContext(context.Background()) != nil {
		t.Error("ожидался nil")
	}
	if SubjectFromContext(context.Background()) != "" {
		t.Error("ожидалась пустая строка")
	}
}

// TestJWKSReadinessChecker — проверка доступности JWKS.
func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus string
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(jwks)
			},
			wantStatus: "ok",
		},
		{
			name: "нет ключей",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"keys":[]}`))
			},
			wantStatus: "degraded",
		},
		{
			name: "500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			checker, err := NewJWKSReadinessChecker(srv.URL, "", time.Second)
			if err != nil {
				t.Fatalf("ошибка создания checker: %v", err)
			}
			status, msg := checker.CheckReady()
			if status != tt.wantStatus {
				t.Errorf("ожидался статус %s, получен %s (%s)", tt.wantStatus, status, msg)
			}
		})
	}
}
