package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmoreno/subsidy-registry/internal/models"
)

const (
	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrUserExists     = errors.New("user already exists")
	ErrInvalidCreds   = errors.New("invalid credentials")
	ErrInactiveUser   = errors.New("user is inactive")
	ErrInvalidRefresh = errors.New("invalid refresh token")

	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv() ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}

	return jwtSecretRuntime, nil
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" || req.Password == "" {
		return nil, ErrInvalidCreds
	}

	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 OR email = $2)", username, email).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	var user models.User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, name, role, active, created_at
	`, username, email, string(hash), req.Name, RoleUser).Scan(
		&user.ID, &user.Username, &user.Email, &user.Name, &user.Role, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	pair, err := generateTokenPair(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{TokenPair: pair, User: user}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))

	var user models.User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, email, password_hash, name, role, active, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Name, &user.Role, &user.Active, &user.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	pair, err := generateTokenPair(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &AuthResponse{TokenPair: pair, User: user}, nil
}

// Refresh exchanges a valid refresh token for a new access token. Access
// tokens are rejected here: only tokens minted with typ=refresh qualify.
func (s *Service) Refresh(req RefreshRequest) (*TokenPair, error) {
	claims, err := parseClaims(req.RefreshToken)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return nil, ErrInvalidRefresh
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleUser
	}

	access, err := signToken(userID, role, "access", accessTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: req.RefreshToken, TokenType: "bearer"}, nil
}

func generateTokenPair(userID uuid.UUID, role string) (TokenPair, error) {
	access, err := signToken(userID, role, "access", accessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := signToken(userID, role, "refresh", refreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func signToken(userID uuid.UUID, role, typ string, ttl time.Duration) (string, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"typ":  typ,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}

func parseClaims(tokenString string) (jwt.MapClaims, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCreds
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCreds
	}
	return claims, nil
}
