package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/proctorly/examlive-backend/internal/config"
	"github.com/proctorly/examlive-backend/internal/model"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID  `json:"user_id"`
	Role   model.Role `json:"role"`
}

// UserSource looks up user accounts for credential checks. Implemented by
// repository.UserRepository.
type UserSource interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// AuthService handles credential verification, JWT issuing and validation,
// and the single-active-login discipline for students.
type AuthService struct {
	cfg   *config.Config
	users UserSource
	rdb   *redis.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, users UserSource, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, users: users, rdb: rdb}
}

// HashPassword hashes a password with the configured bcrypt cost.
// Default cost is 6 for high-concurrency performance. Adjustable via BCRYPT_COST env.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login verifies the credential pair and issues a JWT for the account.
// Students are limited to one active login: a second login is rejected
// until the first session expires or is reset.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(user.PasswordHash, password); err != nil {
		return "", nil, err
	}
	if !user.IsActive {
		return "", nil, ErrAccountInactive
	}

	jti := uuid.New().String()
	if user.Role == model.RoleStudent {
		if err := s.registerStudentSession(ctx, user.ID, jti); err != nil {
			return "", nil, err
		}
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		UserID: user.ID,
		Role:   user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, user, nil
}

func (s *AuthService) registerStudentSession(ctx context.Context, userID uuid.UUID, jti string) error {
	sessionKey := config.CacheKey.UserSessionKey(userID.String())

	existing, err := s.rdb.Get(ctx, sessionKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check session: %w", err)
	}
	if existing != "" {
		return ErrSessionActive
	}

	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// ValidateStudentSession checks a token's JTI against the active session in
// Redis. A mismatch means the session was reset or superseded.
func (s *AuthService) ValidateStudentSession(ctx context.Context, userID uuid.UUID, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.UserSessionKey(userID.String())).Result()
	if err != nil || stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetSession clears the active-login key so the user can log in again.
func (s *AuthService) ResetSession(ctx context.Context, userID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.UserSessionKey(userID.String())).Err()
}

// ValidateToken parses and validates a JWT, returning the claims. The
// account must still exist and be active; a deactivated user's tokens stop
// working immediately.
func (s *AuthService) ValidateToken(ctx context.Context, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	return claims, nil
}

// GetPublicProfile exposes the identity collaborator's profile lookup.
func (s *AuthService) GetPublicProfile(ctx context.Context, userID uuid.UUID) (*model.PublicProfile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrNotFound
	}
	return &model.PublicProfile{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}
