package auth

import (
	"errors"
	"fmt"
	"time"

	"logpipe/internal/config"
	"logpipe/internal/utils"
)

// ErrInvalidCredentials is returned when a username or password does not
// match a configured account.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Account is a configured admin API login.
type Account struct {
	Username     string
	PasswordHash string
	Role         Role
}

// Authenticator exchanges account credentials for signed tokens.
type Authenticator struct {
	accounts map[string]Account
	secret   []byte
	ttl      time.Duration
}

// NewAuthenticator builds an Authenticator from the admin settings. Accounts
// without a password hash are not created, so with neither hash set every
// login fails.
func NewAuthenticator(cfg config.AdminConfig) *Authenticator {
	a := &Authenticator{
		accounts: make(map[string]Account),
		secret:   cfg.JWTSecret,
		ttl:      cfg.TokenTTL,
	}
	if a.ttl <= 0 {
		a.ttl = 12 * time.Hour
	}
	a.add(Account{Username: cfg.ViewerUsername, PasswordHash: cfg.ViewerPasswordHash, Role: RoleViewer})
	a.add(Account{Username: cfg.Username, PasswordHash: cfg.PasswordHash, Role: RoleAdmin})
	return a
}

func (a *Authenticator) add(acc Account) {
	if acc.Username == "" || acc.PasswordHash == "" {
		return
	}
	a.accounts[acc.Username] = acc
}

// Login verifies the credentials and returns a token and its expiry.
func (a *Authenticator) Login(username, password string) (string, int64, error) {
	acc, ok := a.accounts[username]
	if !ok {
		return "", 0, ErrInvalidCredentials
	}

	valid, err := utils.VerifyPasswordArgon2(password, acc.PasswordHash)
	if err != nil {
		return "", 0, fmt.Errorf("failed to verify password for %s: %w", username, err)
	}
	if !valid {
		return "", 0, ErrInvalidCredentials
	}

	return GenerateJWT(acc.Username, []Role{acc.Role}, a.secret, a.ttl)
}

// Validate verifies a token issued by Login.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	return ValidateJWT(token, a.secret)
}
