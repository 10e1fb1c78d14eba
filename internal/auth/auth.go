package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kotakwatch/internal/database"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = database.ErrUsernameTaken
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

// ValidationError is a rejected registration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UserStore is the persistence the authenticator needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	RegisterTenant(ctx context.Context, reg database.Registration) (*database.Registered, error)
}

// Token is a login result.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RegisterRequest creates a tenant with its admin and first camera.
type RegisterRequest struct {
	MasjidName     string `json:"nama_masjid"`
	TelegramChatID string `json:"tg_chat_id"`
	CameraName     string `json:"camera_nama"`
	CameraURL      string `json:"camera_url"`
	Username       string `json:"username"`
	Password       string `json:"password"`
}

// Validate checks the request against the field limits.
func (r *RegisterRequest) Validate() error {
	name := strings.TrimSpace(r.MasjidName)
	switch {
	case len(name) < 3 || len(name) > 150:
		return &ValidationError{Field: "nama_masjid", Reason: "must be 3-150 characters"}
	case len(r.Username) < 3 || len(r.Username) > 100:
		return &ValidationError{Field: "username", Reason: "must be 3-100 characters"}
	case len(r.Password) < 6 || len(r.Password) > 60:
		return &ValidationError{Field: "password", Reason: "must be 6-60 characters"}
	case len(r.CameraURL) < 5:
		return &ValidationError{Field: "camera_url", Reason: "required"}
	case !hasAnyPrefix(r.CameraURL, "http://", "https://", "rtsp://"):
		return &ValidationError{Field: "camera_url", Reason: "must start with http(s):// or rtsp://"}
	}
	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Authenticator handles user authentication
type Authenticator struct {
	users      UserStore
	jwtManager *JWTManager
}

// NewAuthenticator creates an authenticator backed by users.
func NewAuthenticator(users UserStore, jwtManager *JWTManager) *Authenticator {
	return &Authenticator{users: users, jwtManager: jwtManager}
}

// Login validates credentials and returns a bearer token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(Identity{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt}, nil
}

// Register creates a tenant, its admin user and a network camera.
func (a *Authenticator) Register(ctx context.Context, req RegisterRequest) (*database.Registered, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	return a.users.RegisterTenant(ctx, database.Registration{
		TenantName:     strings.TrimSpace(req.MasjidName),
		TelegramChatID: req.TelegramChatID,
		Username:       req.Username,
		PasswordHash:   hash,
		Camera: database.CameraRecord{
			Name:   req.CameraName,
			Source: "ipcam",
			Path:   req.CameraURL,
		},
	})
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// JWTManager returns the JWT manager
func (a *Authenticator) JWTManager() *JWTManager {
	return a.jwtManager
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", &ValidationError{Field: "password", Reason: "longer than 72 bytes"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password with a stored hash. Accounts created
// before hashing was introduced store the password as plain text.
func VerifyPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	if !strings.HasPrefix(stored, "$2") {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	}
	if len(password) > maxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}
