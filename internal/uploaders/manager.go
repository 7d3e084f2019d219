package uploaders

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

// Manager keeps the configured uploaders in publish order.
type Manager struct {
	order     []string
	uploaders map[string]Uploader
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{uploaders: make(map[string]Uploader)}
}

// NewManagerFromConfig builds one uploader per enabled platform.
func NewManagerFromConfig(cfg internal.Config, log *logging.Logger) *Manager {
	m := NewManager()
	for _, platform := range cfg.EnabledPlatforms() {
		switch platform {
		case internal.PlatformYouTube:
			m.AddUploader(NewYouTubeUploader(cfg.YouTube, log))
		case internal.PlatformInstagram:
			m.AddUploader(NewInstagramUploader(cfg.Instagram, log))
		case internal.PlatformFacebook:
			m.AddUploader(NewFacebookUploader(cfg.Facebook, log))
		case internal.PlatformTikTok:
			m.AddUploader(NewTikTokUploader(cfg.TikTok, log))
		}
	}
	return m
}

// AddUploader adds or replaces the uploader for its platform. New platforms
// are appended to the publish order.
func (m *Manager) AddUploader(u Uploader) {
	platform := u.Platform()
	if _, ok := m.uploaders[platform]; !ok {
		m.order = append(m.order, platform)
	}
	m.uploaders[platform] = u
}

// GetUploader returns an uploader for the specified platform
func (m *Manager) GetUploader(platform string) (Uploader, error) {
	uploader, ok := m.uploaders[platform]
	if !ok {
		return nil, fmt.Errorf("uploader not found for platform: %s", platform)
	}
	return uploader, nil
}

// Uploaders returns the uploaders in publish order.
func (m *Manager) Uploaders() []Uploader {
	return lo.Map(m.order, func(p string, _ int) Uploader { return m.uploaders[p] })
}

// AvailablePlatforms returns the platform names in publish order.
func (m *Manager) AvailablePlatforms() []string {
	return append([]string(nil), m.order...)
}

// AnyNeedsPublicURL reports whether an exposure step is required.
func (m *Manager) AnyNeedsPublicURL() bool {
	return lo.SomeBy(m.Uploaders(), NeedsPublicURL)
}

// Upload runs one platform, converting a nil result into a failed attempt so
// callers always get something to record.
func (m *Manager) Upload(ctx context.Context, platform string, req *UploadRequest) (*UploadResult, error) {
	uploader, err := m.GetUploader(platform)
	if err != nil {
		return failed(platform, err, nil)
	}

	start := time.Now()
	res, err := uploader.Upload(ctx, req)
	if res == nil {
		res = &UploadResult{Platform: platform}
		if err != nil {
			res.Error = err.Error()
		}
	}
	if res.Platform == "" {
		res.Platform = platform
	}
	if res.Details == nil {
		res.Details = map[string]string{}
	}
	res.Details["elapsed"] = time.Since(start).Round(time.Millisecond).String()
	return res, err
}
