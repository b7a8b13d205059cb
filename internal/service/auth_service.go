package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"survey-platform/internal/model"
	"survey-platform/pkg/apierror"
)

type AuthUserStore interface {
	Create(ctx context.Context, user model.User) error
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
}

type AuthService struct {
	users     AuthUserStore
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(users AuthUserStore, jwtSecret string, accessTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
	}
}

func (s *AuthService) Login(ctx context.Context, username string, password string) (model.AccessToken, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AccessToken{}, apierror.New("UNAUTHORIZED", "invalid credentials", "", http.StatusUnauthorized)
	}
	if err != nil {
		return model.AccessToken{}, err
	}

	// Deactivated accounts and username-reservation placeholders cannot log in.
	if !user.IsActive {
		return model.AccessToken{}, apierror.New("UNAUTHORIZED", "invalid credentials", "", http.StatusUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.AccessToken{}, apierror.New("UNAUTHORIZED", "invalid credentials", "", http.StatusUnauthorized)
	}

	return s.issueToken(user)
}

func (s *AuthService) Register(ctx context.Context, username string, password string, role string) (model.AuthUser, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	role = strings.ToLower(strings.TrimSpace(role))

	if username == "" || password == "" {
		return model.AuthUser{}, apierror.New("BAD_REQUEST", "username and password are required", "", http.StatusBadRequest)
	}
	if role == "" {
		role = "member"
	}
	if role != "admin" && role != "member" {
		return model.AuthUser{}, apierror.New("BAD_REQUEST", "invalid role", role, http.StatusBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return model.AuthUser{}, err
	}

	user := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
		DateJoined:   time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); errors.Is(err, model.ErrUserAlreadyExists) {
		return model.AuthUser{}, apierror.New("ALREADY_EXISTS", "username already exists", username, http.StatusConflict)
	} else if err != nil {
		return model.AuthUser{}, err
	}

	return model.AuthUser{ID: user.ID, Username: user.Username, Role: user.Role}, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New("UNAUTHORIZED", "invalid token signing method", "", http.StatusUnauthorized)
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierror.New("UNAUTHORIZED", "invalid token", "", http.StatusUnauthorized)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.New("UNAUTHORIZED", "invalid token claims", "", http.StatusUnauthorized)
	}

	claims := &model.AuthClaims{}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Username, _ = claimsMap["username"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" {
		return nil, apierror.New("UNAUTHORIZED", "invalid token subject", "", http.StatusUnauthorized)
	}

	return claims, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, userID string) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, apierror.New("NOT_FOUND", "user not found", userID, http.StatusNotFound)
	}
	if err != nil {
		return model.AuthUser{}, err
	}

	return model.AuthUser{ID: user.ID, Username: user.Username, Role: user.Role}, nil
}

func (s *AuthService) issueToken(user model.User) (model.AccessToken, error) {
	now := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     user.Role,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(s.accessTTL).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return model.AccessToken{}, err
	}

	return model.AccessToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		User:        model.AuthUser{ID: user.ID, Username: user.Username, Role: user.Role},
	}, nil
}
