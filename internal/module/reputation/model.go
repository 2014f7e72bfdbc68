package reputation

import (
	"encoding/json"
	"time"
)

// Reputation tracks a user's community standing.
type Reputation struct {
	ID               string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"-"`
	Email            string    `gorm:"uniqueIndex;not null" json:"email"`
	Points           int       `gorm:"not null;default:0" json:"points"`
	TrendsSpotted    int       `gorm:"not null;default:0" json:"trendsSpotted"`
	SuccessfulPosts  int       `gorm:"not null;default:0" json:"successfulPosts"`
	Badges           string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	LastContribution time.Time `json:"lastContribution"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}

// TableName returns the database table name.
func (Reputation) TableName() string {
	return "reputations"
}

// BadgeList decodes the stored badges.
func (r *Reputation) BadgeList() []string {
	var badges []string
	if err := json.Unmarshal([]byte(r.Badges), &badges); err != nil {
		return []string{}
	}
	return badges
}

// SetBadges encodes the badge list for storage.
func (r *Reputation) SetBadges(badges []string) {
	data, err := json.Marshal(badges)
	if err != nil {
		r.Badges = "[]"
		return
	}
	r.Badges = string(data)
}

// Contribution kinds recognised by AddContribution.
const (
	ContributionTrend = "trend"
	ContributionStory = "story"
	ContributionVote  = "vote"
)

// Points awarded per contribution kind.
const (
	TrendPoints = 5
	StoryPoints = 10
)
