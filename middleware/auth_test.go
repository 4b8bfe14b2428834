package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collabboard/handlers/auth"
	"collabboard/stores/memory"
)

func registerAndGetToken(t *testing.T) string {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	auth.InitAuth()

	store := memory.NewStore()
	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "hunter2hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	auth.HandleRegister(store).ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Token
}

func TestAuthJWTAcceptsIssuedToken(t *testing.T) {
	token := registerAndGetToken(t)

	var gotLogin string
	protected := AuthJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			t.Fatal("expected claims in the request context")
		}
		gotLogin = claims.Login
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if gotLogin != "alice" {
		t.Fatalf("claims login = %q", gotLogin)
	}
}

func TestAuthJWTRejectsBadRequests(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	auth.InitAuth()

	protected := AuthJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without valid auth")
	}))

	cases := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Basic abc123",
		"malformed token": "Bearer not-a-jwt",
		"no token at all": "Bearer",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
	}
}
