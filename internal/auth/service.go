package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/models"
)

const minPasswordLength = 6

var (
	ErrInvalidCredentials = apperr.Auth("invalid_credentials", "invalid credentials")
	ErrInactive           = apperr.Auth("inactive", "user is inactive")
	ErrInvalidRefresh     = apperr.Auth("invalid_refresh_token", "invalid refresh token")
	ErrRefreshExpired     = apperr.Auth("refresh_token_expired", "refresh token expired")
	ErrAlreadyRegistered  = apperr.Conflict("already_registered", "email or phone already registered")
	ErrWeakPassword       = apperr.Validation("weak_password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	ErrUserNotFound       = apperr.NotFound("user_not_found", "user not found")
)

type Users interface {
	Insert(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

type RefreshTokens interface {
	Insert(ctx context.Context, token *models.RefreshToken) error
	FindActiveByHash(ctx context.Context, hash string) (models.RefreshToken, error)
	Revoke(ctx context.Context, id primitive.ObjectID, replacedBy *primitive.ObjectID) error
	RevokeByHash(ctx context.Context, hash string) error
}

type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// OwnerEmails register with the owner role.
	OwnerEmails []string
}

// Session is what a client receives after authenticating.
type Session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         models.User `json:"user"`
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

type Service struct {
	users  Users
	tokens RefreshTokens
	cfg    Config
	owners map[string]bool
	now    func() time.Time
}

func NewService(users Users, tokens RefreshTokens, cfg Config) *Service {
	owners := make(map[string]bool, len(cfg.OwnerEmails))
	for _, email := range cfg.OwnerEmails {
		if email = normalizeEmail(email); email != "" {
			owners[email] = true
		}
	}
	return &Service{users: users, tokens: tokens, cfg: cfg, owners: owners, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	email := normalizeEmail(in.Email)
	if len(in.Password) < minPasswordLength {
		return Session{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	role := models.RoleCustomer
	if s.owners[email] {
		role = models.RoleOwner
	}

	now := s.now().UTC()
	user := models.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(in.Name),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         role,
		IsActive:     true,
		Addresses:    []models.Address{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, &user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return Session{}, ErrAlreadyRegistered
		}
		return Session{}, apperr.Internal(fmt.Errorf("insert user: %w", err))
	}

	log.Printf("[AUTH] [INFO] %s registered as %s", email, role)
	return s.openSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, apperr.Internal(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Println("[AUTH] [ERROR] login invalid credentials")
		return Session{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return Session{}, ErrInactive
	}

	log.Println("[AUTH] [INFO] login succeeded:", user.Email)
	return s.openSession(ctx, user)
}

// Refresh exchanges a refresh token for a new session and revokes the old
// token.
func (s *Service) Refresh(ctx context.Context, plain string) (Session, error) {
	token, err := s.tokens.FindActiveByHash(ctx, HashToken(strings.TrimSpace(plain)))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Session{}, ErrInvalidRefresh
		}
		return Session{}, apperr.Internal(err)
	}

	if s.now().After(token.ExpiresAt) {
		if err := s.tokens.Revoke(ctx, token.ID, nil); err != nil {
			log.Println("[AUTH] [ERROR] revoke expired refresh token:", err)
		}
		return Session{}, ErrRefreshExpired
	}

	user, err := s.users.FindByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Session{}, ErrInvalidRefresh
		}
		return Session{}, apperr.Internal(err)
	}
	if !user.IsActive {
		return Session{}, ErrInactive
	}

	session, replacement, err := s.issue(ctx, user)
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.Revoke(ctx, token.ID, &replacement); err != nil {
		log.Println("[AUTH] [ERROR] revoke rotated refresh token:", err)
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, plain string) error {
	if err := s.tokens.RevokeByHash(ctx, HashToken(strings.TrimSpace(plain))); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrInvalidRefresh
		}
		return apperr.Internal(err)
	}
	return nil
}

// Me returns the account behind an authenticated request.
func (s *Service) Me(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, apperr.Internal(err)
	}
	return user, nil
}

func (s *Service) openSession(ctx context.Context, user models.User) (Session, error) {
	session, _, err := s.issue(ctx, user)
	return session, err
}

func (s *Service) issue(ctx context.Context, user models.User) (Session, primitive.ObjectID, error) {
	now := s.now()
	access, err := IssueAccessToken(s.cfg.Secret, user, s.cfg.AccessTTL, now)
	if err != nil {
		return Session{}, primitive.NilObjectID, apperr.Internal(fmt.Errorf("sign access token: %w", err))
	}

	plain, err := GenerateRefreshToken()
	if err != nil {
		return Session{}, primitive.NilObjectID, apperr.Internal(fmt.Errorf("generate refresh token: %w", err))
	}

	refresh := models.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(plain),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Insert(ctx, &refresh); err != nil {
		return Session{}, primitive.NilObjectID, apperr.Internal(fmt.Errorf("store refresh token: %w", err))
	}

	return Session{
		AccessToken:  access,
		RefreshToken: plain,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		User:         user,
	}, refresh.ID, nil
}
