package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewService(db, "test-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestLoginAndVerify(t *testing.T) {
	s := newTestService(t)
	created, err := s.CreateDefaultUser("pw")
	if err != nil || !created {
		t.Fatalf("CreateDefaultUser = %v, %v; want true, nil", created, err)
	}
	if created, _ := s.CreateDefaultUser("pw"); created {
		t.Error("CreateDefaultUser created a second admin")
	}

	if _, err := s.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCreds) {
		t.Errorf("Login(wrong) error = %v; want ErrInvalidCreds", err)
	}
	if _, err := s.Login("nobody", "pw"); !errors.Is(err, ErrInvalidCreds) {
		t.Errorf("Login(nobody) error = %v; want ErrInvalidCreds", err)
	}
	tok, err := s.Login("admin", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := s.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Username = %q; want admin", claims.Username)
	}

	other := &Service{db: s.db, jwtSecret: []byte("other"), TokenTTL: time.Hour}
	if _, err := other.VerifyToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyToken with wrong secret error = %v; want ErrInvalidToken", err)
	}
}

func TestExpiredToken(t *testing.T) {
	s := newTestService(t)
	s.Register("u", "p")
	s.TokenTTL = -time.Minute
	tok, err := s.Login("u", "p")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := s.VerifyToken(tok); err == nil {
		t.Error("VerifyToken accepted an expired token")
	}
}

func TestUsers(t *testing.T) {
	s := newTestService(t)
	if err := s.Register("a", "1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("a", "2"); !errors.Is(err, ErrUserExists) {
		t.Errorf("Register duplicate error = %v; want ErrUserExists", err)
	}
	if err := s.DeleteUser("a"); !errors.Is(err, ErrLastUser) {
		t.Errorf("DeleteUser(last) error = %v; want ErrLastUser", err)
	}
	s.Register("b", "2")
	if err := s.DeleteUser("zzz"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("DeleteUser(missing) error = %v; want ErrUserNotFound", err)
	}
	if err := s.DeleteUser("a"); err != nil {
		t.Errorf("DeleteUser: %v", err)
	}
	users, err := s.ListUsers()
	if err != nil || len(users) != 1 || users[0].Username != "b" {
		t.Errorf("ListUsers = %+v, %v; want [b]", users, err)
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	s.Register("admin", "pw")
	tok, _ := s.Login("admin", "pw")

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		if !ok || c.Username != "admin" {
			t.Errorf("claims = %+v, %v", c, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{"none", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + tok, "", http.StatusNoContent},
		{"cookie", "", tok, http.StatusNoContent},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"basic", "Basic abc", tok, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if tt.cookie != "" {
			req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tt.cookie})
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d; want %d", tt.name, rec.Code, tt.want)
		}
	}
}
