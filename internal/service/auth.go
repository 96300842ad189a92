package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminService is the API-key service name whose keys grant admin access.
const AdminService = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrKeyRevoked         = errors.New("api key revoked")
)

// Admin is an authenticated administrator.
type Admin struct {
	Subject string
	Method  string // "api_key" or "jwt"
}

// AuthService authenticates administrators for mutating routes. Admins
// present the configured admin key, an active API key issued for the
// "admin" service, or a JWT signed with the configured secret.
type AuthService struct {
	keys      *APIKeyService
	adminKey  string
	jwtSecret []byte
}

func NewAuthService(keys *APIKeyService, adminKey, jwtSecret string) *AuthService {
	return &AuthService{
		keys:      keys,
		adminKey:  adminKey,
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateAPIKey checks a raw key against the static admin key and then
// against stored admin-service keys. Stored keys count the use.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*Admin, error) {
	if rawKey == "" {
		return nil, ErrInvalidCredentials
	}
	if s.adminKey != "" && subtle.ConstantTimeCompare([]byte(rawKey), []byte(s.adminKey)) == 1 {
		return &Admin{Subject: "admin-key", Method: "api_key"}, nil
	}
	if s.keys == nil {
		return nil, ErrInvalidCredentials
	}

	rec, err := s.keys.Usage(ctx, rawKey)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if rec.Service != AdminService {
		return nil, ErrInvalidCredentials
	}
	if !rec.IsActive {
		return nil, ErrKeyRevoked
	}
	if _, err := s.keys.Verify(ctx, rawKey); err != nil {
		return nil, ErrKeyRevoked
	}
	return &Admin{Subject: rec.KeyPrefix, Method: "api_key"}, nil
}

// ValidateJWT verifies a bearer token and returns the admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*Admin, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidCredentials
	}
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer("keygate"))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	return &Admin{Subject: claims.Subject, Method: "jwt"}, nil
}

// IssueJWT creates a signed admin token for subject.
func (s *AuthService) IssueJWT(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "keygate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
