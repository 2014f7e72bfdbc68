package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/titleforge/server/internal/shared/config"
)

const titlesPerRequest = 5

// platformPrompts holds the per-platform prompt guidance.
var platformPrompts = map[Platform]string{
	PlatformYouTube: `Create titles that:
- Use numbers and specific data (e.g., "I Made $10,000 in One Day")
- Include emotional triggers (e.g., "I NEVER Expected This to Happen...")
- Use caps for emphasis on key words
- Add curiosity gaps (e.g., "The Truth About X That Nobody Tells You")
- Keep under 60 characters for optimal display
- Use brackets for context [SHOCKING] or [TUTORIAL]
- Start with action words or "How I/We" for personal touch
- Focus on evergreen appeal rather than temporal references`,

	PlatformInstagram: `Create Reels titles that:
- Use 3-5 relevant emojis strategically placed
- Include top trending hashtags naturally
- Create curiosity ("Wait for it..." "Plot twist...")
- Use line breaks for readability
- Include calls to action ("Save this!" "Follow for more")
- Keep text concise for mobile viewing
- Use relevant trending audio references
- Add "POV:" or other viral formats when appropriate`,

	PlatformTikTok: `Create TikTok captions that:
- Use trending phrases ("Real reason why..." "They didn't tell you...")
- Include 3-5 relevant emojis
- Use popular hashtags like #fyp #viral naturally
- Create suspense ("Watch till the end" "Part 1/3")
- Keep under 150 characters
- Use current trends and audio references
- Include relatable hooks ("What I wish I knew..." "Things they don't tell you...")
- Add POV scenarios when relevant`,
}

// OpenAIProvider generates titles with an OpenAI-compatible
// chat-completions endpoint, behind a circuit breaker.
type OpenAIProvider struct {
	cfg     *config.OpenAIConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]string]
	logger  *zap.Logger
}

// NewOpenAIProvider creates a new provider client.
func NewOpenAIProvider(cfg *config.OpenAIConfig, client *http.Client, logger *zap.Logger) *OpenAIProvider {
	breaker := gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name: "openai",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &OpenAIProvider{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateTitles implements Provider.
func (p *OpenAIProvider) GenerateTitles(ctx context.Context, req Request) ([]string, error) {
	return p.breaker.Execute(func() ([]string, error) {
		return p.generate(ctx, req)
	})
}

func (p *OpenAIProvider) generate(ctx context.Context, req Request) ([]string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.Platform)},
			{Role: "user", Content: userPrompt(req)},
		},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Error("provider returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", payload),
		)
		return nil, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	titles := ParseTitles(chat.Choices[0].Message.Content)
	if len(titles) < titlesPerRequest {
		return nil, fmt.Errorf("provider returned %d valid titles, need %d", len(titles), titlesPerRequest)
	}
	return titles[:titlesPerRequest], nil
}

func systemPrompt(platform Platform) string {
	return fmt.Sprintf("You are an expert social media strategist who deeply understands %s's current algorithm and trending patterns. You create titles that drive high engagement while maintaining authenticity.", platform)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d highly engaging, modern titles for a %s video about: %q",
		titlesPerRequest, req.Platform, req.Description)
	if req.TargetAudience != "" {
		fmt.Fprintf(&b, " targeting %s", req.TargetAudience)
	}
	b.WriteString(".\n\n")
	b.WriteString(platformPrompts[req.Platform])
	b.WriteString(`

Additional requirements:
1. Focus on current algorithm preferences
2. Use patterns from viral content
3. Optimize for click-through rate while maintaining authenticity
4. Include keywords naturally without stuffing
5. Each title should follow a different viral pattern

Format the response as a simple array of strings, with no additional explanation or commentary.`)
	return b.String()
}

var (
	quoteTrim     = regexp.MustCompile(`^["']+|["']+$`)
	bracketOnly   = regexp.MustCompile(`^\[+$`)
	numberedBegin = regexp.MustCompile(`^\d+\.`)
)

// ParseTitles extracts usable titles from raw completion text,
// dropping numbering artifacts, bare brackets, and year references
// that would date otherwise evergreen titles.
func ParseTitles(content string) []string {
	var titles []string
	for _, line := range strings.Split(content, "\n") {
		title := strings.TrimSpace(line)
		if title == "" {
			continue
		}
		title = strings.TrimSpace(quoteTrim.ReplaceAllString(title, ""))

		switch {
		case len(title) <= 3:
		case bracketOnly.MatchString(title):
		case numberedBegin.MatchString(title):
		case strings.HasPrefix(title, "-"):
		case strings.Contains(title, "2024"), strings.Contains(title, "2025"):
		default:
			titles = append(titles, title)
		}
	}
	return titles
}

var _ Provider = (*OpenAIProvider)(nil)
