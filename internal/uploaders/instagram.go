package uploaders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

var errContainerPending = errors.New("container not ready")

// InstagramUploader publishes Reels through the Instagram Graph API, either
// from a public URL or by pushing the bytes through a resumable session.
type InstagramUploader struct {
	cfg   internal.InstagramConfig
	graph *graphClient
	log   *logging.Logger
}

// NewInstagramUploader creates a new Instagram uploader
func NewInstagramUploader(cfg internal.InstagramConfig, log *logging.Logger) *InstagramUploader {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 36
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &InstagramUploader{
		cfg:   cfg,
		graph: newGraphClient(cfg.GraphBaseURL, cfg.GraphVersion, cfg.AccessToken, cfg.UploadTimeout),
		log:   log,
	}
}

// Platform returns the platform name
func (i *InstagramUploader) Platform() string {
	return internal.PlatformInstagram
}

// RequiresPublicURL is true in url mode, where Instagram downloads the file.
func (i *InstagramUploader) RequiresPublicURL() bool {
	return i.cfg.UploadMode != internal.InstagramModeResumable
}

// Upload creates a Reels container, waits for it to finish processing and
// publishes it.
func (i *InstagramUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if !i.cfg.Configured() {
		return failed(i.Platform(), fmt.Errorf("%w: IG_ACCESS_TOKEN and IG_USER_ID required", ErrMissingCredential), nil)
	}

	var (
		containerID string
		err         error
	)
	if i.RequiresPublicURL() {
		containerID, err = i.createURLContainer(ctx, req)
	} else {
		containerID, err = i.createResumableContainer(ctx, req)
	}
	if err != nil {
		return failed(i.Platform(), err, nil)
	}
	details := map[string]string{"container_id": containerID}
	i.log.Infof("instagram container %s created for %s", containerID, req.FileName)

	if err := i.waitContainer(ctx, containerID); err != nil {
		return failed(i.Platform(), err, details)
	}

	published, err := i.graph.post(ctx, i.cfg.UserID+"/media_publish", url.Values{"creation_id": {containerID}})
	if err != nil {
		// the container exists but no media was published; not reconciled
		details["state"] = "uploaded but unpublished"
		return failed(i.Platform(), fmt.Errorf("%w: %v", ErrPublishFailed, err), details)
	}
	mediaID := published.Get("id").String()
	if mediaID == "" {
		details["state"] = "uploaded but unpublished"
		return failed(i.Platform(), fmt.Errorf("%w: media_publish returned no id", ErrPublishFailed), details)
	}

	result := &UploadResult{
		Success:  true,
		Platform: i.Platform(),
		ID:       mediaID,
		Details:  details,
	}
	if link, err := i.graph.get(ctx, mediaID, url.Values{"fields": {"permalink"}}); err == nil {
		result.URL = link.Get("permalink").String()
	}
	return result, nil
}

func (i *InstagramUploader) createURLContainer(ctx context.Context, req *UploadRequest) (string, error) {
	if req.PublicURL == "" {
		return "", ErrNoPublicURL
	}
	res, err := i.graph.post(ctx, i.cfg.UserID+"/media", url.Values{
		"media_type":    {"REELS"},
		"video_url":     {req.PublicURL},
		"caption":       {req.Caption},
		"share_to_feed": {"true"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContainerFailed, err)
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("%w: no container id in response", ErrContainerFailed)
	}
	return id, nil
}

// createResumableContainer starts a resumable session and transfers the file
// to the returned upload URI.
func (i *InstagramUploader) createResumableContainer(ctx context.Context, req *UploadRequest) (string, error) {
	res, err := i.graph.post(ctx, i.cfg.UserID+"/media", url.Values{
		"media_type":    {"REELS"},
		"upload_type":   {"resumable"},
		"caption":       {req.Caption},
		"share_to_feed": {"true"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: start session: %v", ErrContainerFailed, err)
	}
	id := res.Get("id").String()
	uri := res.Get("uri").String()
	if id == "" || uri == "" {
		return "", fmt.Errorf("%w: session response lacks id or uri", ErrContainerFailed)
	}

	if err := i.transfer(ctx, uri, req.VideoPath); err != nil {
		return "", fmt.Errorf("%w: transfer: %v", ErrContainerFailed, err)
	}
	return id, nil
}

func (i *InstagramUploader) transfer(ctx context.Context, uri, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, f)
	if err != nil {
		return err
	}
	httpReq.ContentLength = info.Size()
	httpReq.Header.Set("Authorization", "OAuth "+i.cfg.AccessToken)
	httpReq.Header.Set("offset", "0")
	httpReq.Header.Set("file_size", strconv.FormatInt(info.Size(), 10))

	resp, err := i.graph.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := readGraphResponse(resp)
	if err != nil {
		return err
	}
	if ok := body.Get("success"); ok.Exists() && !ok.Bool() {
		return fmt.Errorf("upload rejected: %s", body.Raw)
	}
	i.log.Infof("instagram transferred %d bytes", info.Size())
	return nil
}

// waitContainer polls status_code until FINISHED. ERROR and EXPIRED end the
// wait immediately; running out of attempts is also a container failure.
func (i *InstagramUploader) waitContainer(ctx context.Context, containerID string) error {
	r := retrier.New(retrier.ConstantBackoff(i.cfg.PollAttempts-1, i.cfg.PollInterval), containerClassifier{})
	attempt := 0
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		res, err := i.graph.get(ctx, containerID, url.Values{"fields": {"status_code,status"}})
		if err != nil {
			return err
		}
		switch code := res.Get("status_code").String(); code {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("%w: container %s status %s: %s", ErrContainerFailed, containerID, code, res.Get("status").String())
		default:
			i.log.Infof("instagram container %s status %q (attempt %d/%d)", containerID, code, attempt, i.cfg.PollAttempts)
			return errContainerPending
		}
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrContainerFailed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: container %s not ready after %d attempts: %v", ErrContainerFailed, containerID, attempt, err)
	}
}

// containerClassifier stops retrying on terminal container states.
type containerClassifier struct{}

func (containerClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, ErrContainerFailed):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}
