package uploaders

import (
	"context"
	"fmt"
	"net/url"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

// FacebookUploader posts the video to a Facebook Page. The Graph API fetches
// the file itself, so a public URL is required.
type FacebookUploader struct {
	cfg   internal.FacebookConfig
	graph *graphClient
	log   *logging.Logger
}

func NewFacebookUploader(cfg internal.FacebookConfig, log *logging.Logger) *FacebookUploader {
	if log == nil {
		log = logging.Discard()
	}
	return &FacebookUploader{
		cfg:   cfg,
		graph: newGraphClient(cfg.GraphBaseURL, cfg.GraphVersion, cfg.PageToken, 0),
		log:   log,
	}
}

func (f *FacebookUploader) Platform() string {
	return internal.PlatformFacebook
}

func (f *FacebookUploader) RequiresPublicURL() bool { return true }

func (f *FacebookUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if !f.cfg.Configured() {
		return failed(f.Platform(), fmt.Errorf("%w: FB_PAGE_ID and FB_PAGE_TOKEN required", ErrMissingCredential), nil)
	}
	if req.PublicURL == "" {
		return failed(f.Platform(), ErrNoPublicURL, nil)
	}

	res, err := f.graph.post(ctx, f.cfg.PageID+"/videos", url.Values{
		"file_url":    {req.PublicURL},
		"title":       {req.Title},
		"description": {req.Description},
	})
	if err != nil {
		return failed(f.Platform(), fmt.Errorf("%w: %v", ErrPublishFailed, err), nil)
	}
	id := res.Get("id").String()
	if id == "" {
		return failed(f.Platform(), fmt.Errorf("%w: no video id in response", ErrPublishFailed), nil)
	}
	f.log.Infof("facebook video %s posted to page %s", id, f.cfg.PageID)

	return &UploadResult{
		Success:  true,
		Platform: f.Platform(),
		ID:       id,
		URL:      "https://www.facebook.com/" + f.cfg.PageID + "/videos/" + id,
	}, nil
}
