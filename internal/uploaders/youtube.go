package uploaders

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

const maxTitleRunes = 100

// YouTubeUploader handles YouTube Shorts uploads
type YouTubeUploader struct {
	cfg internal.YouTubeConfig
	log *logging.Logger

	// extra options for the API client, after the authorized HTTP client
	serviceOptions []option.ClientOption
}

// NewYouTubeUploader creates a new YouTube uploader
func NewYouTubeUploader(cfg internal.YouTubeConfig, log *logging.Logger) *YouTubeUploader {
	if log == nil {
		log = logging.Discard()
	}
	return &YouTubeUploader{cfg: cfg, log: log}
}

// Platform returns the platform name
func (y *YouTubeUploader) Platform() string {
	return internal.PlatformYouTube
}

// Upload uploads a video to YouTube
func (y *YouTubeUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	service, creds, err := y.authenticate(ctx)
	if creds != nil {
		defer creds.discardToken(y.log)
	}
	if err != nil {
		return failed(y.Platform(), fmt.Errorf("authentication failed: %w", err), nil)
	}

	videoFile, err := os.Open(req.VideoPath)
	if err != nil {
		return failed(y.Platform(), fmt.Errorf("open video file: %w", err), nil)
	}
	defer videoFile.Close()

	privacy := firstNonEmpty(req.Privacy, y.cfg.Privacy, "public")
	categoryID := firstNonEmpty(req.CategoryID, y.cfg.CategoryID, "22")

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       youtubeTitle(req.Title),
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	var mediaOpts []googleapi.MediaOption
	if y.cfg.ChunkSize > 0 {
		mediaOpts = append(mediaOpts, googleapi.ChunkSize(y.cfg.ChunkSize))
	}

	lastPct := int64(-1)
	call := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(videoFile, mediaOpts...).
		ProgressUpdater(func(current, total int64) {
			if total <= 0 {
				return
			}
			pct := current * 100 / total
			if pct/25 != lastPct/25 {
				lastPct = pct
				y.log.Infof("youtube upload %s: %d%%", req.FileName, pct)
			}
		})

	uploaded, err := call.Context(ctx).Do()
	if err != nil {
		return failed(y.Platform(), fmt.Errorf("upload failed: %w", err), nil)
	}
	if uploaded == nil || uploaded.Id == "" {
		return failed(y.Platform(), fmt.Errorf("%w: youtube returned no video id", ErrPublishFailed), nil)
	}

	return &UploadResult{
		Success:  true,
		Platform: y.Platform(),
		ID:       uploaded.Id,
		URL:      "https://youtube.com/shorts/" + uploaded.Id,
		Details: map[string]string{
			"title":   video.Snippet.Title,
			"privacy": privacy,
		},
	}, nil
}

// authenticate resolves the credential state and builds the API client. The
// returned credentials own the scratch token file and must be discarded.
func (y *YouTubeUploader) authenticate(ctx context.Context) (*youtube.Service, *youtubeCredentials, error) {
	creds, err := loadYouTubeCredentials(y.cfg)
	if err != nil {
		return nil, nil, err
	}
	y.log.Infof("youtube credential state: %s", creds.state())

	client, err := creds.httpClient(ctx)
	if err != nil {
		return nil, creds, err
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, y.serviceOptions...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, creds, fmt.Errorf("unable to create YouTube service: %w", err)
	}
	return service, creds, nil
}

// youtubeTitle trims to the 100 character limit and removes angle brackets,
// which the API rejects.
func youtubeTitle(title string) string {
	title = strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(title))
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return title
}
