package uploaders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/eapache/go-resiliency/retrier"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

var (
	publishWords = []string{"post", "postar", "publish", "publicar"}
	loginWords   = []string{"log in", "login", "entrar", "sign in"}

	errNotConfirmed = errors.New("no confirmation yet")
)

// clickByTextJS clicks the first enabled button whose text contains one of the
// given words and returns that text, or "" when nothing matched.
const clickByTextJS = `(function(words) {
	const buttons = Array.from(document.querySelectorAll('button'));
	for (const b of buttons) {
		const t = (b.innerText || '').trim().toLowerCase();
		if (!b.disabled && words.some(w => t.includes(w))) { b.click(); return t; }
	}
	return '';
})(%s)`

const confirmedJS = `(function() {
	if (location.href.includes('/post/')) return true;
	const text = document.body ? document.body.innerText : '';
	return /Publicado|Posted|success|Your video is being uploaded/i.test(text);
})()`

// TikTokUploader drives the TikTok web uploader with a headless Chrome.
// There is no public upload API for personal accounts, so success is a
// heuristic on the page state after clicking publish.
type TikTokUploader struct {
	cfg internal.TikTokConfig
	log *logging.Logger
}

func NewTikTokUploader(cfg internal.TikTokConfig, log *logging.Logger) *TikTokUploader {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = "https://www.tiktok.com/upload?lang=pt"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &TikTokUploader{cfg: cfg, log: log}
}

func (t *TikTokUploader) Platform() string {
	return internal.PlatformTikTok
}

func (t *TikTokUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if !t.cfg.Configured() {
		return failed(t.Platform(), fmt.Errorf("%w: TIKTOK_SESSION_ID or TIKTOK_USERNAME/TIKTOK_PASSWORD required", ErrMissingCredential), nil)
	}
	absPath, err := filepath.Abs(req.VideoPath)
	if err != nil {
		return failed(t.Platform(), err, nil)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", t.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", "pt-BR"),
		chromedp.WindowSize(1280, 800),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel = context.WithTimeout(browserCtx, t.cfg.Timeout)
	defer cancel()

	if err := t.login(browserCtx); err != nil {
		t.saveDebug(browserCtx, "login")
		return failed(t.Platform(), fmt.Errorf("tiktok login: %w", err), nil)
	}

	t.log.Infof("tiktok: uploading %s", req.FileName)
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(t.cfg.UploadURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.SetUploadFiles(`input[type="file"]`, []string{absPath}, chromedp.ByQuery),
	)
	if err != nil {
		t.saveDebug(browserCtx, "upload_no_file_input")
		return failed(t.Platform(), fmt.Errorf("tiktok file input: %w", err), nil)
	}

	t.writeCaption(browserCtx, req.Caption)

	clicked, err := t.waitAndClick(browserCtx, publishWords, 90*time.Second)
	if err != nil {
		t.saveDebug(browserCtx, "upload_no_publish_button")
		return failed(t.Platform(), fmt.Errorf("%w: publish button: %v", ErrPublishFailed, err), nil)
	}
	t.log.Infof("tiktok: clicked %q", clicked)

	if err := t.waitConfirmation(browserCtx); err != nil {
		t.saveDebug(browserCtx, "upload_no_confirmation")
		return failed(t.Platform(), fmt.Errorf("%w: %v", ErrPublishFailed, err), nil)
	}

	var location string
	_ = chromedp.Run(browserCtx, chromedp.Location(&location))
	result := &UploadResult{Success: true, Platform: t.Platform()}
	if strings.Contains(location, "/post/") {
		result.URL = location
		result.ID = location[strings.LastIndex(location, "/")+1:]
	}
	return result, nil
}

// login sets the session cookie when one is configured, otherwise fills the
// email/username form. Captchas and 2FA still need a human.
func (t *TikTokUploader) login(ctx context.Context) error {
	if t.cfg.SessionID != "" {
		return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookie("sessionid", t.cfg.SessionID).
				WithDomain(".tiktok.com").
				WithPath("/").
				WithSecure(true).
				WithHTTPOnly(true).
				Do(ctx)
		}))
	}

	err := chromedp.Run(ctx,
		chromedp.Navigate("https://www.tiktok.com/login/phone-or-email/email"),
		chromedp.WaitVisible(`input[name="username"], input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="username"], input[name="email"]`, t.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"]`, t.cfg.Password, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	if _, err := t.waitAndClick(ctx, loginWords, 15*time.Second); err != nil {
		// no button matched; submit the form from the password field
		if err := chromedp.Run(ctx, chromedp.SendKeys(`input[type="password"]`, "\r", chromedp.ByQuery)); err != nil {
			return err
		}
	}
	return chromedp.Run(ctx, chromedp.Sleep(5*time.Second))
}

// writeCaption is best effort; the platform falls back to the file name.
func (t *TikTokUploader) writeCaption(ctx context.Context, caption string) {
	if caption == "" {
		return
	}
	captionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	const editor = `div[contenteditable="true"], textarea`
	err := chromedp.Run(captionCtx,
		chromedp.WaitVisible(editor, chromedp.ByQuery),
		chromedp.Click(editor, chromedp.ByQuery),
		chromedp.SendKeys(editor, caption, chromedp.ByQuery),
	)
	if err != nil {
		t.log.Warnf("tiktok: caption not written: %v", err)
	}
}

// waitAndClick retries clickByTextJS every two seconds until a button matches
// or limit passes. The publish button only appears once processing is done.
func (t *TikTokUploader) waitAndClick(ctx context.Context, words []string, limit time.Duration) (string, error) {
	arg := "[" + strings.Join(quoteAll(words), ",") + "]"
	script := fmt.Sprintf(clickByTextJS, arg)

	var clicked string
	r := retrier.New(retrier.ConstantBackoff(int(limit/(2*time.Second)), 2*time.Second), nil)
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
			return err
		}
		if clicked == "" {
			return fmt.Errorf("no button matching %v", words)
		}
		return nil
	})
	return clicked, err
}

func (t *TikTokUploader) waitConfirmation(ctx context.Context) error {
	r := retrier.New(retrier.ConstantBackoff(30, 2*time.Second), nil)
	return r.RunCtx(ctx, func(ctx context.Context) error {
		var ok bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(confirmedJS, &ok)); err != nil {
			return err
		}
		if !ok {
			return errNotConfirmed
		}
		return nil
	})
}

// saveDebug stores a screenshot and the page HTML for later inspection.
func (t *TikTokUploader) saveDebug(ctx context.Context, prefix string) {
	if t.cfg.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(t.cfg.DebugDir, 0o755); err != nil {
		t.log.Warnf("tiktok: debug dir: %v", err)
		return
	}
	// the browser context may already be expired
	debugCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	var (
		shot []byte
		html string
	)
	if err := chromedp.Run(debugCtx,
		chromedp.FullScreenshot(&shot, 80),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		t.log.Warnf("tiktok: debug capture failed: %v", err)
		return
	}
	base := debugBaseName(t.cfg.DebugDir, prefix, time.Now())
	if err := os.WriteFile(base+".png", shot, 0o644); err != nil {
		t.log.Warnf("tiktok: write screenshot: %v", err)
	}
	if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		t.log.Warnf("tiktok: write html: %v", err)
	}
	t.log.Infof("tiktok: debug artifacts saved to %s.{png,html}", base)
}

func debugBaseName(dir, prefix string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("debug_tiktok_%s_%d", prefix, now.Unix()))
}

func quoteAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = fmt.Sprintf("%q", w)
	}
	return out
}
