package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/titleforge/server/internal/module/billing"
)

const topPatterns = 5

// PatternCount is one title pattern and how often it appears.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// Stats summarises the caller's account for the analytics view.
type Stats struct {
	Tier             billing.Tier `json:"tier"`
	CurrentUsage     int          `json:"currentUsage"`
	TotalGenerations int64        `json:"totalGenerations"`
}

// Report is the full analytics payload.
type Report struct {
	History              []billing.HistoryRecord `json:"history"`
	PlatformDistribution map[string]int          `json:"platformDistribution"`
	TopPatterns          []PatternCount          `json:"topPatterns"`
	Stats                Stats                   `json:"stats"`
}

// Service derives analytics from the generation history.
type Service struct {
	tracker *billing.Tracker
}

// NewService creates a new analytics service.
func NewService(tracker *billing.Tracker) *Service {
	return &Service{tracker: tracker}
}

// Report builds the analytics report for the user, optionally
// restricted to [from, to]. Zero bounds mean unbounded.
func (s *Service) Report(ctx context.Context, email string, from, to time.Time) (*Report, error) {
	history, err := s.History(ctx, email, from, to)
	if err != nil {
		return nil, err
	}

	acct, err := s.tracker.Account(ctx, email)
	if err != nil {
		return nil, err
	}

	return &Report{
		History:              history,
		PlatformDistribution: platformDistribution(history),
		TopPatterns:          titlePatterns(history),
		Stats: Stats{
			Tier:             acct.Tier,
			CurrentUsage:     acct.CurrentUsage,
			TotalGenerations: acct.TotalGenerations,
		},
	}, nil
}

// History returns the date-filtered generation history.
func (s *Service) History(ctx context.Context, email string, from, to time.Time) ([]billing.HistoryRecord, error) {
	history, err := s.tracker.History(ctx, email)
	if err != nil {
		return nil, err
	}

	filtered := make([]billing.HistoryRecord, 0, len(history))
	for _, rec := range history {
		ts := time.Unix(rec.Timestamp, 0)
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

func platformDistribution(history []billing.HistoryRecord) map[string]int {
	dist := make(map[string]int)
	for _, rec := range history {
		dist[rec.Platform]++
	}
	return dist
}

// titlePatterns classifies every generated title and returns the five
// most common patterns.
func titlePatterns(history []billing.HistoryRecord) []PatternCount {
	counts := make(map[string]int)
	for _, rec := range history {
		for _, title := range rec.Titles {
			for _, pattern := range classifyTitle(title) {
				counts[pattern]++
			}
		}
	}

	patterns := make([]PatternCount, 0, len(counts))
	for pattern, count := range counts {
		patterns = append(patterns, PatternCount{Pattern: pattern, Count: count})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})

	if len(patterns) > topPatterns {
		patterns = patterns[:topPatterns]
	}
	return patterns
}

func classifyTitle(title string) []string {
	var patterns []string
	if strings.HasPrefix(title, "[") && strings.Contains(title, "]") {
		patterns = append(patterns, "[BRACKET]")
	}
	if strings.HasPrefix(strings.ToLower(title), "how to") {
		patterns = append(patterns, "How-to")
	}
	if strings.Contains(title, "!") {
		patterns = append(patterns, "Exclamation")
	}
	if strings.Contains(title, "?") {
		patterns = append(patterns, "Question")
	}
	return patterns
}
