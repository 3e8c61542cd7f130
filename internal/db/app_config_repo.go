package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tasseo/internal/types"
)

// AppConfigRepository reads runtime switches from the app_config key/value table.
type AppConfigRepository struct {
	db DBTX
}

// NewAppConfigRepository creates a new AppConfigRepository.
func NewAppConfigRepository(db DBTX) *AppConfigRepository {
	return &AppConfigRepository{db: db}
}

// Get returns the value stored under key. found is false when no row exists.
func (r *AppConfigRepository) Get(ctx context.Context, key string) (value string, found bool, err error) {
	err = r.db.QueryRow(ctx, `SELECT value FROM app_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to read app config", err)
	}
	return value, true, nil
}
