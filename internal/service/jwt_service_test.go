package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"apoyo-citas/internal/domain"
)

func newTestJWT() *JWTService {
	return NewJWTServiceWithStore("secret", 15*time.Minute, 30*time.Minute, NewMemoryRefreshTokenStore())
}

func TestJWTService_GenerateParseAccess(t *testing.T) {
	svc := newTestJWT()
	user := domain.User{ID: "u1", Email: "ana@uni.example", Role: domain.RoleStudent}

	pair, err := svc.GeneratePair(user)
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected tokens")
	}

	claims, err := svc.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "ana@uni.example" || claims.Role != domain.RoleStudent {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTService_RefreshRotationKeepsRole(t *testing.T) {
	svc := newTestJWT()
	user := domain.User{ID: "a1", Email: "psicologa@centro.example", Role: domain.RoleAdmin}

	pair, err := svc.GeneratePair(user)
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	refreshed, err := svc.RefreshPair(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh pair: %v", err)
	}
	claims, err := svc.ParseAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("parse refreshed access: %v", err)
	}
	if claims.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role after refresh, got %q", claims.Role)
	}

	if _, err := svc.RefreshPair(pair.RefreshToken); err == nil {
		t.Fatalf("expected old refresh token to be revoked")
	}
}

func TestJWTService_RevokeRefresh(t *testing.T) {
	svc := newTestJWT()
	pair, err := svc.GeneratePair(domain.User{ID: "u1", Email: "ana@uni.example", Role: domain.RoleStudent})
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	if err := svc.RevokeRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("revoke refresh: %v", err)
	}
	if _, err := svc.RefreshPair(pair.RefreshToken); err == nil {
		t.Fatalf("expected refresh to fail after revoke")
	}
}

func TestJWTService_RejectsEmptySecret(t *testing.T) {
	svc := NewJWTServiceWithStore("", 15*time.Minute, 30*time.Minute, NewMemoryRefreshTokenStore())
	user := domain.User{ID: "u1", Email: "ana@uni.example", Role: domain.RoleStudent}

	if _, err := svc.GeneratePair(user); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid on empty secret, got %v", err)
	}
}

func TestJWTService_RejectsAccessTokenInRefreshFlow(t *testing.T) {
	svc := newTestJWT()
	pair, err := svc.GeneratePair(domain.User{ID: "u1", Email: "ana@uni.example", Role: domain.RoleStudent})
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	if _, err := svc.RefreshPair(pair.AccessToken); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid for access token used as refresh, got %v", err)
	}
}

func signTestClaims(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTService_RejectsForeignClaims(t *testing.T) {
	svc := newTestJWT()
	now := time.Now().UTC()
	base := func() Claims {
		return Claims{
			UserID:    "u1",
			Email:     "ana@uni.example",
			Role:      domain.RoleStudent,
			TokenType: "access",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "apoyo-citas",
				Subject:   "u1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			},
		}
	}

	t.Run("wrong issuer", func(t *testing.T) {
		c := base()
		c.Issuer = "other-issuer"
		if _, err := svc.ParseAccessToken(signTestClaims(t, c)); !errors.Is(err, ErrJWTInvalid) {
			t.Fatalf("expected ErrJWTInvalid, got %v", err)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		c := base()
		c.Role = "superuser"
		if _, err := svc.ParseAccessToken(signTestClaims(t, c)); !errors.Is(err, ErrJWTInvalid) {
			t.Fatalf("expected ErrJWTInvalid, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		c := base()
		c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
		if _, err := svc.ParseAccessToken(signTestClaims(t, c)); !errors.Is(err, ErrJWTExpired) {
			t.Fatalf("expected ErrJWTExpired, got %v", err)
		}
	})
}
