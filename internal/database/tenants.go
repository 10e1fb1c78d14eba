package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kotakwatch/internal/alert"
)

// DefaultTelegramCooldown applies when a tenant row has no positive cooldown.
const DefaultTelegramCooldown = 10 * time.Second

// ErrUsernameTaken is returned when registering an existing username.
var ErrUsernameTaken = errors.New("username already registered")

// Tenant is one masjid.
type Tenant struct {
	ID               int64
	Name             string
	TelegramChatID   string
	TelegramCooldown time.Duration
	CreatedAt        time.Time
}

// User is a login bound to a tenant.
type User struct {
	ID           int64
	TenantID     int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// DefaultRole is given to the user created with a tenant.
const DefaultRole = "admin_masjid"

// Registration is the input for RegisterTenant.
type Registration struct {
	TenantName     string
	TelegramChatID string
	Username       string
	PasswordHash   string
	Role           string
	// Camera is the tenant's default camera. Its ID and TenantID are filled in.
	Camera CameraRecord
}

// Registered holds the ids created by RegisterTenant.
type Registered struct {
	TenantID int64
	UserID   int64
	CameraID string
}

// RegisterTenant creates a tenant, its admin user and its default camera in
// one transaction.
func (d *Database) RegisterTenant(ctx context.Context, reg Registration) (*Registered, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", reg.Username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if exists > 0 {
		return nil, ErrUsernameTaken
	}

	role := reg.Role
	if role == "" {
		role = DefaultRole
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO masjid (name, tg_chat_id, tg_cooldown, created_at) VALUES (?, ?, ?, ?)",
		reg.TenantName, strings.TrimSpace(reg.TelegramChatID), int(d.defaultCooldown/time.Second), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	tenantID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant id: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		"INSERT INTO users (masjid_id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		tenantID, reg.Username, reg.PasswordHash, role, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}

	cam := reg.Camera
	cam.ID = uuid.NewString()
	cam.TenantID = tenantID
	if cam.Name == "" {
		cam.Name = "Kamera Utama"
	}
	if cam.Source == "" {
		cam.Source = "webcam"
	}
	if err := saveCamera(ctx, tx, &cam, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	d.log.Info("tenant registered", "masjid_id", tenantID, "username", reg.Username, "camera_id", cam.ID)
	return &Registered{TenantID: tenantID, UserID: userID, CameraID: cam.ID}, nil
}

// GetTenant retrieves a tenant by ID. It returns nil when none exists.
func (d *Database) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	query := `SELECT id, name, tg_chat_id, tg_cooldown, created_at FROM masjid WHERE id = ?`

	var t Tenant
	var cooldown int
	err := d.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.TelegramChatID, &cooldown, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	t.TelegramCooldown = d.cooldownOrDefault(cooldown)
	return &t, nil
}

// UpdateTenantTelegram sets a tenant's notification chat and cooldown.
func (d *Database) UpdateTenantTelegram(ctx context.Context, id int64, chatID string, cooldown time.Duration) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE masjid SET tg_chat_id = ?, tg_cooldown = ? WHERE id = ?",
		strings.TrimSpace(chatID), int(cooldown/time.Second), id)
	if err != nil {
		return fmt.Errorf("failed to update tenant telegram: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %d not found", id)
	}
	return nil
}

// ResolveTarget implements alert.TargetResolver.
func (d *Database) ResolveTarget(ctx context.Context, tenantID int64) (*alert.Target, error) {
	t, err := d.GetTenant(ctx, tenantID)
	if err != nil || t == nil || t.TelegramChatID == "" {
		return nil, err
	}
	return &alert.Target{ChatID: t.TelegramChatID, Cooldown: t.TelegramCooldown}, nil
}

// TenantByChatID finds the tenant whose notification chat is chatID.
func (d *Database) TenantByChatID(ctx context.Context, chatID string) (int64, bool, error) {
	if strings.TrimSpace(chatID) == "" {
		return 0, false, nil
	}
	var id int64
	err := d.db.QueryRowContext(ctx, "SELECT id FROM masjid WHERE tg_chat_id = ? ORDER BY id LIMIT 1", chatID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up chat: %w", err)
	}
	return id, true, nil
}

// GetUserByUsername retrieves a user. It returns nil when none exists.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, masjid_id, username, password_hash, role, created_at FROM users WHERE username = ?`

	var u User
	err := d.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.TenantID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// SetDefaultCooldown sets the cooldown given to new tenants and to rows
// without a positive value.
func (d *Database) SetDefaultCooldown(cooldown time.Duration) {
	if cooldown > 0 {
		d.defaultCooldown = cooldown
	}
}

func (d *Database) cooldownOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return d.defaultCooldown
	}
	return time.Duration(seconds) * time.Second
}
