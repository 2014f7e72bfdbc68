package user

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User represents a signed-in account. Identity comes from the OAuth
// provider; the stable caller identity across the system is the email.
type User struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email         string    `json:"email" gorm:"uniqueIndex;not null"`
	Name          string    `json:"name"`
	AvatarURL     string    `json:"avatar_url,omitempty" gorm:"column:avatar_url"`
	OAuthProvider string    `json:"oauth_provider" gorm:"column:oauth_provider"`
	OAuthID       string    `json:"-" gorm:"column:oauth_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (User) TableName() string {
	return "users"
}

// Settings are per-user generation preferences, stored as JSON in the
// key-value store.
type Settings struct {
	DefaultPlatform         string            `json:"defaultPlatform"`
	EmailNotifications      bool              `json:"emailNotifications"`
	CustomPromptPreferences PromptPreferences `json:"customPromptPreferences"`
	Language                string            `json:"language"`
}

var supportedLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "pt": true, "ja": true,
}

// ErrInvalidSettings indicates a settings payload failed validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks the settings for storable values.
func (s *Settings) Validate() error {
	switch s.DefaultPlatform {
	case "youtube", "instagram", "tiktok":
	default:
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidSettings, s.DefaultPlatform)
	}
	if !supportedLanguages[s.Language] {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidSettings, s.Language)
	}
	return nil
}

// PromptPreferences tune the generated titles.
type PromptPreferences struct {
	IncludeEmojis   bool `json:"includeEmojis"`
	IncludeBrackets bool `json:"includeBrackets"`
	UseHashtags     bool `json:"useHashtags"`
}

// DefaultSettings returns the settings used before a user saves any.
func DefaultSettings() Settings {
	return Settings{
		DefaultPlatform:    "youtube",
		EmailNotifications: true,
		CustomPromptPreferences: PromptPreferences{
			IncludeEmojis:   true,
			IncludeBrackets: true,
			UseHashtags:     true,
		},
		Language: "en",
	}
}
