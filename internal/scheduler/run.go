package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"video-autopost/internal"
	"video-autopost/internal/ai"
	"video-autopost/internal/logging"
	"video-autopost/internal/metadata"
	"video-autopost/internal/model"
	"video-autopost/internal/uploaders"
	"video-autopost/internal/video"
)

// locks older than this are left over from a crashed run
const staleLockAge = 6 * time.Hour

var errLocked = errors.New("another run holds the lock")

// RunReport summarizes one pass of the pipeline.
type RunReport struct {
	RunID      string                    `json:"run_id"`
	Skipped    string                    `json:"skipped,omitempty"` // why nothing was attempted
	Video      *model.PendingVideo       `json:"video,omitempty"`
	HookID     string                    `json:"hook_id,omitempty"`
	Title      string                    `json:"title,omitempty"`
	Caption    string                    `json:"caption,omitempty"`
	DryRun     bool                      `json:"dry_run,omitempty"`
	Attempts   []*uploaders.UploadResult `json:"attempts,omitempty"`
	Moved      bool                      `json:"moved"`
	PostedPath string                    `json:"posted_path,omitempty"`
	ArchiveKey string                    `json:"archive_key,omitempty"`
}

// Succeeded returns the platforms that published the video.
func (r *RunReport) Succeeded() []string {
	return lo.FilterMap(r.Attempts, func(a *uploaders.UploadResult, _ int) (string, bool) {
		return a.Platform, a.Success
	})
}

// runLogger prefixes every line with the run id.
type runLogger struct {
	log    *logging.Logger
	prefix string
}

func (l runLogger) Infof(format string, args ...any) {
	l.log.Infof(l.prefix+format, args...)
}

func (l runLogger) Warnf(format string, args ...any) {
	l.log.Warnf(l.prefix+format, args...)
}

func (l runLogger) Errorf(format string, args ...any) {
	l.log.Errorf(l.prefix+format, args...)
}

// RunOnce publishes the next pending video to every configured platform and
// relocates it according to the publish policy. Delivery is at-least-once: a
// crash between a successful publish and the move reposts on the next run.
//
// Dry run logs what would be published and stops there: no vendor call, no
// metadata record and no move, even when MoveAfterPost is set. The older
// post_scheduler script counted a dry run as a success and moved the file.
//
// A nil error with an empty Attempts list means there was nothing to do.
// Errors are returned only for problems that make the run itself impossible;
// platform failures are reported in the attempts.
func (s *Service) RunOnce(ctx context.Context) (*RunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := &RunReport{RunID: s.newRunID(), DryRun: s.cfg.DryRun}
	rl := runLogger{log: s.log, prefix: "[RUN " + shortID(report.RunID) + "] "}

	if s.cfg.LockFile != "" {
		release, err := acquireLock(s.cfg.LockFile, s.now())
		if errors.Is(err, errLocked) {
			rl.Infof("lock %s is held, skipping", s.cfg.LockFile)
			report.Skipped = "locked"
			return report, nil
		}
		if err != nil {
			return report, fmt.Errorf("acquire lock: %w", err)
		}
		defer release()
	}

	v, err := video.NextPending(s.cfg.PendingDir, s.cfg.VideoExtensions)
	if err != nil {
		return report, err
	}
	if v == nil {
		rl.Infof("no pending video in %s", s.cfg.PendingDir)
		report.Skipped = "no pending video"
		return report, nil
	}
	report.Video = v
	rl.Infof("selected %s (%d bytes)", v.Name, v.Size)

	if s.probe != nil {
		if err := s.probe(v); err != nil {
			rl.Warnf("probe: %v", err)
		} else if !video.IsVertical(v) {
			rl.Warnf("%s is %dx%d, Shorts and Reels expect a vertical video", v.Name, v.Width, v.Height)
		}
	}

	req, err := s.buildRequest(ctx, rl, report, v)
	if err != nil {
		return report, err
	}

	ups := s.uploaders.Uploaders()
	if len(ups) == 0 {
		rl.Warnf("no platform configured, leaving %s in place", v.Name)
		report.Skipped = "no platform configured"
		return report, nil
	}

	if s.cfg.DryRun {
		for _, u := range ups {
			rl.Infof("dry run: would publish %s to %s as %q", v.Name, u.Platform(), req.Title)
		}
		report.Skipped = "dry run"
		return report, nil
	}

	closeExposure, exposeErr := s.startExposure(ctx, rl, req, v)
	defer closeExposure()

	for _, u := range ups {
		platform := u.Platform()
		if err := ctx.Err(); err != nil {
			report.Attempts = append(report.Attempts, &uploaders.UploadResult{Platform: platform, Error: err.Error()})
			continue
		}
		if uploaders.NeedsPublicURL(u) && req.PublicURL == "" {
			err := fmt.Errorf("%w: %v", uploaders.ErrNoPublicURL, exposeErr)
			rl.Errorf("%s: %v", platform, err)
			report.Attempts = append(report.Attempts, &uploaders.UploadResult{Platform: platform, Error: err.Error()})
			continue
		}

		rl.Infof("%s: publishing %s", platform, v.Name)
		res, err := s.uploaders.Upload(ctx, platform, req)
		if err != nil || !res.Success {
			rl.Errorf("%s: failed: %s", platform, res.Error)
		} else {
			rl.Infof("%s: published id=%s %s", platform, res.ID, res.URL)
		}
		report.Attempts = append(report.Attempts, res)
	}
	closeExposure()

	succeeded := report.Succeeded()
	s.relocate(rl, report, v, len(ups))

	if len(succeeded) > 0 {
		s.record(ctx, rl, report, v)
		s.archive(ctx, rl, report, v)
	}
	s.notify(ctx, report, len(ups))
	rl.Infof("done: %d/%d platforms succeeded, moved=%v", len(succeeded), len(ups), report.Moved)
	return report, nil
}

// buildRequest picks the caption, hook and title for v.
func (s *Service) buildRequest(ctx context.Context, rl runLogger, report *RunReport, v *model.PendingVideo) (*uploaders.UploadRequest, error) {
	caption, err := s.captions.Pick()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrConfig, err)
	}
	report.Caption = caption

	hookID, hook, err := s.meta.ChooseHook(ctx)
	if err != nil {
		rl.Warnf("metadata: %v, using default hook", err)
		hookID, hook = metadata.DefaultHookID, model.Hook{}
	}
	report.HookID = hookID

	title := hook.Title
	if title == "" && s.titles != nil {
		title, err = s.titles.GenerateTitle(ctx, v.Stem(), caption)
		if err != nil {
			rl.Warnf("ai title: %v", err)
		}
	}
	if title == "" {
		title = ai.FallbackTitle(v.Stem())
	}
	report.Title = title

	description := strings.Join(lo.Compact([]string{hook.Description, caption}), "\n\n") + s.cfg.DescriptionSuffix
	rl.Infof("caption %q, hook %s, title %q", caption, hookID, title)

	return &uploaders.UploadRequest{
		VideoPath:   v.Path,
		FileName:    v.Name,
		Title:       title,
		Description: description,
		Caption:     description,
		Tags:        lo.Uniq(append(append([]string{}, s.cfg.Tags...), hook.Tags...)),
		CategoryID:  s.cfg.YouTube.CategoryID,
		Privacy:     s.cfg.YouTube.Privacy,
	}, nil
}

// startExposure starts the tunnel when an uploader needs a public URL. The
// returned close func is safe to call more than once.
func (s *Service) startExposure(ctx context.Context, rl runLogger, req *uploaders.UploadRequest, v *model.PendingVideo) (func(), error) {
	if !s.uploaders.AnyNeedsPublicURL() {
		return func() {}, nil
	}
	if s.expose == nil {
		return func() {}, errors.New("no exposure helper configured")
	}
	exp, err := s.expose(ctx)
	if err != nil {
		rl.Errorf("exposure: %v", err)
		return func() {}, err
	}
	req.PublicURL = exp.URLFor(v.Name)
	rl.Infof("exposed %s at %s", v.Name, req.PublicURL)

	closed := false
	return func() {
		if !closed {
			closed = true
			exp.Close()
		}
	}, nil
}

// ShouldRelocate applies the publish policy. Zero configured platforms never
// relocates.
func ShouldRelocate(policy string, attempts []*uploaders.UploadResult, configured int) bool {
	if configured == 0 {
		return false
	}
	ok := lo.CountBy(attempts, func(a *uploaders.UploadResult) bool { return a.Success })
	if policy == internal.PolicyAll {
		return ok == configured
	}
	return ok > 0
}

func (s *Service) relocate(rl runLogger, report *RunReport, v *model.PendingVideo, configured int) {
	if !ShouldRelocate(s.cfg.Policy, report.Attempts, configured) {
		rl.Infof("policy %s not satisfied, %s stays pending", s.cfg.Policy, v.Name)
		return
	}
	if !s.cfg.MoveAfterPost {
		rl.Infof("move after post disabled, %s stays pending", v.Name)
		return
	}
	dst, err := video.MoveToPosted(v, s.cfg.PostedDir)
	if err != nil {
		// the next run will publish it again
		rl.Errorf("move %s: %v", v.Name, err)
		return
	}
	report.Moved = true
	report.PostedPath = dst
	rl.Infof("moved %s to %s", v.Name, dst)
}

func (s *Service) record(ctx context.Context, rl runLogger, report *RunReport, v *model.PendingVideo) {
	ids := map[string]string{}
	for _, a := range report.Attempts {
		if a.Success && a.ID != "" {
			ids[a.Platform] = a.ID
		}
	}
	entry := model.HookVideo{
		File:    v.Name,
		Title:   report.Title,
		Caption: report.Caption,
		VideoID: ids[internal.PlatformYouTube],
		IDs:     ids,
	}
	if err := s.meta.Record(ctx, report.HookID, entry); err != nil {
		rl.Errorf("metadata: %v", err)
	}
}

func (s *Service) archive(ctx context.Context, rl runLogger, report *RunReport, v *model.PendingVideo) {
	if s.s3c == nil || !s.cfg.S3.ArchivePosted {
		return
	}
	src := lo.Ternary(report.Moved, report.PostedPath, v.Path)
	key, err := s.s3c.ArchiveFile(ctx, src)
	if err != nil {
		rl.Errorf("s3 archive: %v", err)
		return
	}
	report.ArchiveKey = key
	rl.Infof("archived to s3://%s/%s", s.cfg.S3.Bucket, key)
}

func (s *Service) notify(ctx context.Context, report *RunReport, configured int) {
	if s.notifier == nil {
		return
	}
	succeeded := report.Succeeded()
	var b strings.Builder
	icon := lo.Ternary(len(succeeded) == configured, "✅", lo.Ternary(len(succeeded) > 0, "⚠️", "❌"))
	fmt.Fprintf(&b, "%s %s: %d/%d\n", icon, report.Video.Name, len(succeeded), configured)
	for _, a := range report.Attempts {
		if a.Success {
			fmt.Fprintf(&b, "%s: ok %s\n", a.Platform, lo.Ternary(a.URL != "", a.URL, a.ID))
		} else {
			fmt.Fprintf(&b, "%s: %s\n", a.Platform, a.Error)
		}
	}
	fmt.Fprintf(&b, "moved: %v", report.Moved)
	s.notifier.Notify(ctx, b.String(), len(succeeded) < configured)
}

// acquireLock creates path exclusively. The returned func removes it.
func acquireLock(path string, now time.Time) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		info, statErr := os.Stat(path)
		if statErr != nil || now.Sub(info.ModTime()) < staleLockAge {
			return nil, errLocked
		}
		_ = os.Remove(path)
	}
	return nil, errLocked
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
