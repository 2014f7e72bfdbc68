package trends

import (
	"time"

	"github.com/google/uuid"
)

// Trend is a community-submitted trending topic.
type Trend struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title          string    `json:"title" gorm:"not null"`
	Description    string    `json:"description"`
	Platform       string    `json:"platform" gorm:"not null;index"`
	ImageURL       string    `json:"imageUrl,omitempty" gorm:"column:image_url"`
	SubmitterEmail string    `json:"submitterEmail" gorm:"not null;index"`
	Points         int       `json:"points" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"-"`
}

// TableName returns the database table name.
func (Trend) TableName() string {
	return "trends"
}

// Vote is one user's vote on a trend. A user holds at most one vote
// per trend.
type Vote struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TrendID    uuid.UUID `json:"trendId" gorm:"type:uuid;not null;uniqueIndex:idx_trend_voter"`
	VoterEmail string    `json:"voterEmail" gorm:"not null;uniqueIndex:idx_trend_voter"`
	Value      int       `json:"value" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"-"`
}

// TableName returns the database table name.
func (Vote) TableName() string {
	return "trend_votes"
}

// SubmitInput carries a new trend submission.
type SubmitInput struct {
	Title       string
	Description string
	Platform    string
}
