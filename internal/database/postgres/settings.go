package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// SettingsRepository keeps verification settings in a single-row table.
type SettingsRepository struct {
	pool *Pool
}

// NewSettingsRepository creates a new PostgreSQL settings repository.
func NewSettingsRepository(pool *Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// LoadSettings returns stored settings merged over base.
func (r *SettingsRepository) LoadSettings(ctx context.Context, base config.VerificationSettings) (config.VerificationSettings, error) {
	var data string
	err := r.pool.QueryRow(ctx, `SELECT data FROM attendance_settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("load settings: %w", err)
	}
	return database.UnmarshalSettings([]byte(data), base)
}

// SaveSettings stores s.
func (r *SettingsRepository) SaveSettings(ctx context.Context, s config.VerificationSettings) error {
	data, err := database.MarshalSettings(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO attendance_settings (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, string(data))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
