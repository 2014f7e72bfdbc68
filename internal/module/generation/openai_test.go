package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/shared/config"
)

func TestParseTitles(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "plain lines",
			content:  "How I Built a Studio in My Garage\nThe Truth About Home Recording",
			expected: []string{"How I Built a Studio in My Garage", "The Truth About Home Recording"},
		},
		{
			name:     "strips surrounding quotes",
			content:  `"The Secret Nobody Shares"` + "\n'Another One Here'",
			expected: []string{"The Secret Nobody Shares", "Another One Here"},
		},
		{
			name:     "drops numbered lines",
			content:  "1. Numbered Artifact\nKept Title Stays Here",
			expected: []string{"Kept Title Stays Here"},
		},
		{
			name:     "drops bare brackets and dashes",
			content:  "[\n- bullet leftover\n[SHOCKING] This Actually Works",
			expected: []string{"[SHOCKING] This Actually Works"},
		},
		{
			name:     "drops dated titles",
			content:  "Best Gear of 2024\nBest Gear of 2025\nTimeless Gear Guide",
			expected: []string{"Timeless Gear Guide"},
		},
		{
			name:     "drops short fragments and blanks",
			content:  "\n\nab\nA Real Title Worth Keeping",
			expected: []string{"A Real Title Worth Keeping"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseTitles(tt.content))
		})
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	completion := `"I Tested This for 30 Days"
"The Truth About Morning Routines"
"How I Doubled My Focus in One Week"
"[EXPERIMENT] What Happens When You Quit Coffee"
"Why Your Routine Is Not Working"
"Bonus Title That Gets Cut"`

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":` + jsonString(completion) + `}}]}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(&config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	}, &http.Client{Timeout: time.Second}, zap.NewNop())

	titles, err := provider.GenerateTitles(context.Background(), Request{
		Description: "a morning routine experiment",
		Platform:    PlatformYouTube,
	})
	require.NoError(t, err)
	assert.Len(t, titles, 5)
	assert.Equal(t, "I Tested This for 30 Days", titles[0])
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestOpenAIProviderTooFewTitles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Only One Title Here"}}]}`))
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(&config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, &http.Client{Timeout: time.Second}, zap.NewNop())

	_, err := provider.GenerateTitles(context.Background(), Request{
		Description: "anything",
		Platform:    PlatformTikTok,
	})
	assert.Error(t, err)
}

func TestOpenAIProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(&config.OpenAIConfig{
		BaseURL: srv.URL,
	}, &http.Client{Timeout: time.Second}, zap.NewNop())

	_, err := provider.GenerateTitles(context.Background(), Request{
		Description: "anything",
		Platform:    PlatformInstagram,
	})
	assert.Error(t, err)
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
