package uploaders

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredential means the platform has no usable secret configured.
	ErrMissingCredential = errors.New("missing credential")
	// ErrReauthRequired means the stored token expired and cannot be refreshed
	// without an operator running the consent flow again.
	ErrReauthRequired = errors.New("token expired and no refresh token available")
	// ErrNoPublicURL is returned by URL-based uploaders when the exposure step
	// did not produce a reachable URL for the file.
	ErrNoPublicURL = errors.New("no public url for video")
	// ErrContainerFailed means the vendor never produced a usable media container.
	ErrContainerFailed = errors.New("media container failed")
	// ErrPublishFailed means the final publish step was rejected.
	ErrPublishFailed = errors.New("publish failed")
)

// UploadResult is the outcome of one publish attempt on one platform.
type UploadResult struct {
	Success  bool              `json:"success"`
	Platform string            `json:"platform"`
	ID       string            `json:"id,omitempty"`
	URL      string            `json:"url,omitempty"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// UploadRequest describes the video to publish.
type UploadRequest struct {
	VideoPath   string
	FileName    string
	PublicURL   string // set when the exposure helper produced one
	Title       string
	Description string
	Caption     string
	Tags        []string
	CategoryID  string
	Privacy     string // public, unlisted, private
}

// Uploader publishes a video to one platform.
type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	Platform() string
}

// PublicURLRequirer is implemented by uploaders whose vendor fetches the file
// from a URL instead of receiving the bytes.
type PublicURLRequirer interface {
	RequiresPublicURL() bool
}

// NeedsPublicURL reports whether u must be given a public URL.
func NeedsPublicURL(u Uploader) bool {
	r, ok := u.(PublicURLRequirer)
	return ok && r.RequiresPublicURL()
}

func failed(platform string, err error, details map[string]string) (*UploadResult, error) {
	return &UploadResult{
		Success:  false,
		Platform: platform,
		Error:    err.Error(),
		Details:  details,
	}, err
}
