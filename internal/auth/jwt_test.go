package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"logpipe/internal/config"
	"logpipe/internal/utils"
)

var testSecret = []byte("test-secret-key-for-testing")

func testAdminConfig(t *testing.T) config.AdminConfig {
	t.Helper()

	adminHash, err := utils.HashPasswordArgon2("admin-password-123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	viewerHash, err := utils.HashPasswordArgon2("viewer-password-123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	return config.AdminConfig{
		JWTSecret:          testSecret,
		Username:           "admin",
		PasswordHash:       adminHash,
		ViewerUsername:     "viewer",
		ViewerPasswordHash: viewerHash,
		TokenTTL:           time.Hour,
	}
}

func TestGenerateAndValidateJWT(t *testing.T) {
	token, exp, err := GenerateJWT("ops", []Role{RoleViewer}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	if exp <= time.Now().Unix() {
		t.Error("GenerateJWT() expiration time is in the past")
	}

	claims, err := ValidateJWT(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("claims.Subject = %v, want ops", claims.Subject)
	}
	if !claims.HasRole(RoleViewer) {
		t.Error("claims.HasRole(viewer) = false, want true")
	}
	if claims.HasRole(RoleAdmin) {
		t.Error("claims.HasRole(admin) = true for a viewer token")
	}
}

func TestValidateJWT_Rejects(t *testing.T) {
	valid, _, err := GenerateJWT("ops", []Role{RoleAdmin}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	expired, _, err := GenerateJWT("ops", []Role{RoleAdmin}, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ops", "roles": []string{"admin"}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"wrong secret", valid, []byte("another-secret")},
		{"expired", expired, testSecret},
		{"unsigned", none, testSecret},
		{"garbage", "not-a-token", testSecret},
		{"no secret", valid, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateJWT(tt.token, tt.secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateJWT() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestGenerateJWT_NoSecret(t *testing.T) {
	if _, _, err := GenerateJWT("ops", []Role{RoleAdmin}, nil, time.Minute); err == nil {
		t.Error("GenerateJWT() error = nil without a secret")
	}
}

func TestAuthenticatorLogin(t *testing.T) {
	a := NewAuthenticator(testAdminConfig(t))

	t.Run("admin", func(t *testing.T) {
		token, _, err := a.Login("admin", "admin-password-123")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		claims, err := a.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if !claims.HasRole(RoleAdmin) || !claims.HasRole(RoleViewer) {
			t.Errorf("admin claims roles = %v", claims.Roles)
		}
	})

	t.Run("viewer", func(t *testing.T) {
		token, _, err := a.Login("viewer", "viewer-password-123")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		claims, err := a.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if claims.HasRole(RoleAdmin) {
			t.Error("viewer token grants admin")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, _, err := a.Login("admin", "viewer-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, _, err := a.Login("root", "admin-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestAuthenticator_NoAccounts(t *testing.T) {
	a := NewAuthenticator(config.AdminConfig{JWTSecret: testSecret, Username: "admin"})
	if _, _, err := a.Login("admin", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRoleHasPermission(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleViewer, true},
		{RoleViewer, RoleViewer, true},
		{RoleViewer, RoleAdmin, false},
		{Role("guest"), RoleViewer, false},
	}
	for _, tt := range tests {
		if got := tt.role.HasPermission(tt.required); got != tt.want {
			t.Errorf("%s.HasPermission(%s) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
	if Role("guest").IsValid() {
		t.Error("Role(guest).IsValid() = true")
	}
}
