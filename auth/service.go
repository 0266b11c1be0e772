package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"escrowflow/apperr"
)

const (
	MinPasswordLength = 8
	TokenTTL          = 24 * time.Hour
)

var (
	ErrInvalidCredentials = fmt.Errorf("auth: %w: invalid credentials", apperr.ErrUnauthorized)
	ErrWeakPassword       = fmt.Errorf("auth: %w: password must be at least %d characters", apperr.ErrValidation, MinPasswordLength)
	ErrInvalidToken       = fmt.Errorf("auth: %w: invalid token", apperr.ErrUnauthorized)
)

// Service registers users and issues the HS256 tokens the API authenticates
// with.
type Service struct {
	repo      Repository
	jwtSecret []byte
	now       func() time.Time
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates an account. Role defaults to client; any role may self
// register except admin.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, fmt.Errorf("auth: %w: email is required", apperr.ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("auth: %w: malformed email %q", apperr.ErrValidation, email)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleClient
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("auth: %w: invalid role %q", apperr.ErrValidation, role)
	}
	if role == RoleAdmin {
		return nil, fmt.Errorf("auth: %w: admin accounts cannot self register", apperr.ErrUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login checks the password and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, exp, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: exp, User: user}, nil
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates the signature and expiry and returns the identity the
// token was issued to.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}
	return Identity{UserID: userID, Role: role}, nil
}

// IssueToken signs a token for an existing identity. Operators use it to mint
// admin tokens out of band.
func (s *Service) IssueToken(id Identity) (string, error) {
	if !isValidRole(id.Role) || id.UserID == "" {
		return "", fmt.Errorf("auth: %w: incomplete identity", apperr.ErrValidation)
	}
	token, _, err := s.generateToken(id.UserID, id.Role)
	return token, err
}

func (s *Service) generateToken(userID string, role Role) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(TokenTTL)
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     exp.Unix(),
		"iat":     now.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleClient, RoleFreelancer, RoleArbitrator, RoleAdmin:
		return true
	default:
		return false
	}
}
