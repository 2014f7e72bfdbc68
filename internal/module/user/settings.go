package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SettingsStore persists per-user settings as JSON in Redis.
type SettingsStore struct {
	redis redis.UniversalClient
}

// NewSettingsStore creates a new settings store.
func NewSettingsStore(client redis.UniversalClient) *SettingsStore {
	return &SettingsStore{redis: client}
}

func settingsKey(email string) string {
	return fmt.Sprintf("user:%s:settings", email)
}

// Get returns the user's settings, or the defaults if none are stored.
func (s *SettingsStore) Get(ctx context.Context, email string) (*Settings, error) {
	raw, err := s.redis.Get(ctx, settingsKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			defaults := DefaultSettings()
			return &defaults, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		// Corrupt stored value, fall back to defaults.
		defaults := DefaultSettings()
		return &defaults, nil
	}
	return &settings, nil
}

// Put validates and stores the user's settings.
func (s *SettingsStore) Put(ctx context.Context, email string, settings *Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, settingsKey(email), data, 0).Err(); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	return nil
}
