package stories

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Badge names awarded for standout results.
const (
	BadgeViralSuccess = "Viral Success"
	BadgeCTRMaster    = "CTR Master"
)

// Metrics are the self-reported results behind a success story.
type Metrics struct {
	Views7d int     `json:"views7d"`
	CTR     float64 `json:"ctr"`
	Likes   int     `json:"likes"`
}

// Badges returns the badge names these metrics earn.
func (m Metrics) Badges() []string {
	var badges []string
	if m.Views7d > 10000 {
		badges = append(badges, BadgeViralSuccess)
	}
	if m.CTR > 15 {
		badges = append(badges, BadgeCTRMaster)
	}
	return badges
}

// SuccessStory is a community post about a title that performed well.
type SuccessStory struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AuthorEmail string    `json:"authorEmail" gorm:"not null;index"`
	Title       string    `json:"title" gorm:"not null"`
	TitleUsed   string    `json:"titleUsed" gorm:"not null"`
	Platform    string    `json:"platform" gorm:"not null"`
	Story       string    `json:"story"`
	ImageURL    string    `json:"imageUrl,omitempty" gorm:"column:image_url"`
	MetricsJSON string    `json:"-" gorm:"column:metrics;type:text;not null;default:'{}'"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName returns the database table name.
func (SuccessStory) TableName() string {
	return "success_stories"
}

// Metrics decodes the stored metrics.
func (s *SuccessStory) Metrics() Metrics {
	var m Metrics
	if err := json.Unmarshal([]byte(s.MetricsJSON), &m); err != nil {
		return Metrics{}
	}
	return m
}

// SetMetrics encodes the metrics for storage.
func (s *SuccessStory) SetMetrics(m Metrics) {
	data, err := json.Marshal(m)
	if err != nil {
		s.MetricsJSON = "{}"
		return
	}
	s.MetricsJSON = string(data)
}

// MarshalJSON inlines the decoded metrics and earned badges.
func (s SuccessStory) MarshalJSON() ([]byte, error) {
	type alias SuccessStory
	m := s.Metrics()
	return json.Marshal(struct {
		alias
		Metrics Metrics  `json:"metrics"`
		Badges  []string `json:"badges"`
	}{
		alias:   alias(s),
		Metrics: m,
		Badges:  append([]string{}, m.Badges()...),
	})
}
