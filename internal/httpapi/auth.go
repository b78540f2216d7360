package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/xid"
)

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

const tokenIssuer = "estancopro"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

var knownRoles = map[string]bool{RoleCashier: true, RoleAdmin: true}

// AuthManager signs and checks the bearer tokens of the back office. It
// keeps a copy of the stored credentials, refreshed on every login.
type AuthManager struct {
	mu       sync.RWMutex
	secret   []byte
	tokenTTL time.Duration
	parser   *jwtlib.Parser
	users    UserStore
	accounts map[string]account
	log      logrus.FieldLogger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type account struct {
	hash   string
	role   string
	active bool
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// NewAuthManager expects a secret already checked by the caller; an empty
// one is replaced so tokens are never signed with a zero key.
func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore, logger logrus.FieldLogger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	manager := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		parser: jwtlib.NewParser(
			jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
			jwtlib.WithIssuer(tokenIssuer),
			jwtlib.WithExpirationRequired(),
		),
		users:    users,
		accounts: make(map[string]account),
		log:      logger.WithField("component", "auth"),
	}
	if err := manager.refresh(context.Background()); err != nil {
		manager.log.WithError(err).Warn("could not load user accounts")
	}
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := a.refresh(refreshCtx); err != nil {
		a.log.WithError(err).Warn("using cached accounts for login")
	}
	cancel()

	username := normalizeUsername(req.Username)
	a.mu.RLock()
	acct, ok := a.accounts[username]
	a.mu.RUnlock()
	if !ok || !passwordMatches(acct.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acct.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.issue(domain.Actor{Username: username, Role: acct.role}, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken returns the actor a token was issued to. Tokens of another
// issuer, without an expiry or carrying an unknown role are rejected.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &actorClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" || !knownRoles[claims.Role] {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) issue(actor domain.Actor, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   actor.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: actor.Role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// refresh reloads accounts from the user store. Accounts still holding a
// plain-text password are rehashed with bcrypt and written back; a failed
// write-back is logged and the hash is used for this process anyway.
func (a *AuthManager) refresh(ctx context.Context) error {
	if a.users == nil {
		return nil
	}
	stored, err := a.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	loaded := make(map[string]account, len(stored))
	for _, user := range stored {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		hash := user.Password
		if !isBcryptHash(hash) {
			upgraded, err := bcrypt.GenerateFromPassword([]byte(hash), bcrypt.DefaultCost)
			if err != nil {
				a.log.WithError(err).WithField("username", username).Error("could not hash legacy password")
				continue
			}
			hash = string(upgraded)
			if err := a.users.UpdateUserPassword(ctx, username, hash); err != nil {
				a.log.WithError(err).WithField("username", username).Warn("could not store upgraded password hash")
			}
		}
		loaded[username] = account{hash: hash, role: user.Role, active: user.Active}
	}

	a.mu.Lock()
	for username, acct := range loaded {
		a.accounts[username] = acct
	}
	a.mu.Unlock()
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func passwordMatches(hash string, input string) bool {
	if strings.TrimSpace(input) == "" || !isBcryptHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func isBcryptHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
