package uploaders

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"video-autopost/internal"
)

type stubUploader struct {
	platform string
	public   bool
	res      *UploadResult
	err      error
}

func (s *stubUploader) Platform() string        { return s.platform }
func (s *stubUploader) RequiresPublicURL() bool { return s.public }
func (s *stubUploader) Upload(context.Context, *UploadRequest) (*UploadResult, error) {
	return s.res, s.err
}

func TestManagerKeepsInsertionOrder(t *testing.T) {
	m := NewManager()
	m.AddUploader(&stubUploader{platform: "youtube"})
	m.AddUploader(&stubUploader{platform: "instagram", public: true})
	m.AddUploader(&stubUploader{platform: "youtube"})

	if got := m.AvailablePlatforms(); !reflect.DeepEqual(got, []string{"youtube", "instagram"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if !m.AnyNeedsPublicURL() {
		t.Fatal("instagram stub requires a public url")
	}
	if _, err := m.GetUploader("tiktok"); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestManagerUploadFillsNilResult(t *testing.T) {
	boom := errors.New("boom")
	m := NewManager()
	m.AddUploader(&stubUploader{platform: "youtube", err: boom})

	res, err := m.Upload(context.Background(), "youtube", &UploadRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if res == nil || res.Success || res.Platform != "youtube" || res.Error != "boom" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Details["elapsed"] == "" {
		t.Fatal("expected elapsed detail")
	}
}

func TestNewManagerFromConfigUsesEnabledPlatforms(t *testing.T) {
	cfg := internal.Config{
		YouTube:   internal.YouTubeConfig{OAuthJSON: `{}`},
		Facebook:  internal.FacebookConfig{PageID: "p", PageToken: "t"},
		Instagram: internal.InstagramConfig{UploadMode: internal.InstagramModeResumable},
	}
	m := NewManagerFromConfig(cfg, nil)
	if got := m.AvailablePlatforms(); !reflect.DeepEqual(got, []string{"youtube", "facebook"}) {
		t.Fatalf("unexpected platforms %v", got)
	}
	if !m.AnyNeedsPublicURL() {
		t.Fatal("facebook requires a public url")
	}
}
