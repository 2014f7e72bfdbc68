package stories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSubmitValidation(t *testing.T) {
	service := NewService(nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name  string
		input SubmitInput
	}{
		{"missing title", SubmitInput{TitleUsed: "My Viral Title", Platform: "youtube"}},
		{"missing title used", SubmitInput{Title: "My Story", Platform: "youtube"}},
		{"bad platform", SubmitInput{Title: "My Story", TitleUsed: "My Viral Title", Platform: "vine"}},
		{"negative metrics", SubmitInput{
			Title: "My Story", TitleUsed: "My Viral Title", Platform: "youtube",
			Metrics: Metrics{Views7d: -1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Submit(ctx, "author@example.com", tt.input, nil, "", 0)
			assert.True(t, errors.Is(err, ErrInvalidStory))
		})
	}
}
