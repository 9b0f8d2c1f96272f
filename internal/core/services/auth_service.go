package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"meshlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWrongPassword = errors.New("wrong shared password")
)

type AuthService interface {
	GenerateToken(userID domain.UserID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	// CheckHandshake validates the connect-time credentials. A mismatch
	// means the connection is dropped without a protocol-level error.
	CheckHandshake(userID domain.UserID, password string) error
	GetUserFromContext(ctx context.Context) (domain.UserID, error)
}

type Claims struct {
	UserID domain.UserID `json:"user_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	sharedPassword string
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret, sharedPassword string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		sharedPassword: sharedPassword,
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(userID domain.UserID) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) CheckHandshake(userID domain.UserID, password string) error {
	if userID == "" {
		return ErrUnauthorized
	}
	if s.sharedPassword == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.sharedPassword)) != 1 {
		return ErrWrongPassword
	}
	return nil
}

func (s *authService) GetUserFromContext(ctx context.Context) (domain.UserID, error) {
	userID, ok := ctx.Value("user_id").(domain.UserID)
	if !ok {
		return "", ErrUnauthorized
	}
	return userID, nil
}
