package generation

import "context"

// Platform is a supported publishing platform.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

// IsValid checks if the platform is supported.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformYouTube, PlatformInstagram, PlatformTikTok:
		return true
	default:
		return false
	}
}

// Request describes one title generation.
type Request struct {
	Description    string
	Platform       Platform
	TargetAudience string
}

// Provider produces titles for a video description. Any error means
// the paid action was not performed; callers must not account usage
// for failed calls.
type Provider interface {
	GenerateTitles(ctx context.Context, req Request) ([]string, error)
}
