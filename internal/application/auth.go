package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

func (s *CurationService) BootstrapAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return errors.New("bootstrap admin email and password are required")
	}

	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	u, err := s.CreateUser(ctx, email, password, true)
	if err != nil {
		return err
	}
	s.log.Info("bootstrap super-user created", "user", u.Email)
	return s.repo.CreateAuditLog(ctx, domain.AuditLog{Actor: u.Email, Action: "auth.bootstrap_admin", TargetKind: "user", TargetUUID: u.Email, Metadata: "initial super-user created"})
}

func (s *CurationService) CreateUser(ctx context.Context, email, password string, superUser bool) (domain.User, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return domain.User{}, fmt.Errorf("%w: email and password are required", domain.ErrInput)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	return s.repo.CreateUser(ctx, domain.User{Email: normalizeEmail(email), PasswordHash: hash, SuperUser: superUser})
}

func (s *CurationService) LoginWithAPIToken(ctx context.Context, email, password, tokenName string, ttl *time.Duration) (domain.User, string, error) {
	u, err := s.authenticateEmailPassword(ctx, email, password)
	if err != nil {
		return domain.User{}, "", err
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return domain.User{}, "", err
	}

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	_, err = s.repo.CreateAPIToken(ctx, domain.APIToken{
		UserID:    u.ID,
		Name:      defaultString(tokenName, "cli"),
		TokenHash: hash,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return domain.User{}, "", err
	}

	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{Actor: u.Email, Action: "auth.login.api_token", TargetKind: "user", TargetUUID: u.Email, Metadata: "api token issued"})
	return u, plain, nil
}

func (s *CurationService) AuthenticateBearerToken(ctx context.Context, token string) (domain.User, error) {
	apit, err := s.repo.GetAPITokenByTokenHash(ctx, hashToken(token))
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if apit.ExpiresAt != nil && apit.ExpiresAt.Before(time.Now().UTC()) {
		return domain.User{}, fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	}
	u, err := s.repo.GetUserByID(ctx, apit.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	return u, nil
}

// ActorFor builds the engine caller for an authenticated user. Only
// super-users may act as somebody else.
func (s *CurationService) ActorFor(ctx context.Context, u domain.User, actAs string) (domain.Actor, error) {
	actor := domain.Actor{User: u.Email, SuperUser: u.SuperUser}
	actAs = normalizeEmail(actAs)
	if actAs == "" || actAs == u.Email {
		return actor, nil
	}
	if !u.SuperUser {
		return domain.Actor{}, fmt.Errorf("%w: only super-users can act as another user", domain.ErrUnauthorized)
	}
	if _, err := s.repo.GetUserByEmail(ctx, actAs); err != nil {
		return domain.Actor{}, fmt.Errorf("%w: cannot act as %s", domain.ErrInput, actAs)
	}
	actor.ActingAs = actAs
	return actor, nil
}

func (s *CurationService) ListAuditLogs(ctx context.Context, actor domain.Actor, limit int) ([]domain.AuditLog, error) {
	if !actor.Privileged() {
		return nil, fmt.Errorf("%w: audit logs are restricted to super-users", domain.ErrUnauthorized)
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *CurationService) authenticateEmailPassword(ctx context.Context, email, password string) (domain.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	return input
}
