package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"video-autopost/internal"
	"video-autopost/internal/captions"
	"video-autopost/internal/logging"
	"video-autopost/internal/metadata"
	"video-autopost/internal/storage"
	"video-autopost/internal/uploaders"
)

type stubUploader struct {
	platform  string
	needsURL  bool
	id        string
	err       error
	calls     int
	publicURL string
}

func (s *stubUploader) Platform() string        { return s.platform }
func (s *stubUploader) RequiresPublicURL() bool { return s.needsURL }

func (s *stubUploader) Upload(_ context.Context, req *uploaders.UploadRequest) (*uploaders.UploadResult, error) {
	s.calls++
	s.publicURL = req.PublicURL
	if s.err != nil {
		return &uploaders.UploadResult{Platform: s.platform, Error: s.err.Error()}, s.err
	}
	return &uploaders.UploadResult{Success: true, Platform: s.platform, ID: s.id}, nil
}

type fakeExposure struct {
	closed int
}

func (f *fakeExposure) URLFor(name string) string { return "https://public.example/" + name }
func (f *fakeExposure) Close()                    { f.closed++ }

type recordingNotifier struct {
	texts      []string
	withErrors []bool
}

func (r *recordingNotifier) Notify(_ context.Context, text string, withErrors bool) {
	r.texts = append(r.texts, text)
	r.withErrors = append(r.withErrors, withErrors)
}

type testEnv struct {
	svc     *Service
	pending string
	posted  string
}

func newTestEnv(t *testing.T, policy string, ups ...uploaders.Uploader) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := internal.Config{
		PendingDir:        filepath.Join(root, "pending"),
		PostedDir:         filepath.Join(root, "posted"),
		VideoExtensions:   []string{".mp4", ".mov", ".avi", ".mkv"},
		Captions:          []string{"Legenda A"},
		DescriptionSuffix: "\n\nPublicado automaticamente.",
		Tags:              []string{"shorts"},
		Policy:            policy,
		MoveAfterPost:     true,
		YouTube:           internal.YouTubeConfig{CategoryID: "22", Privacy: "public"},
	}
	if err := os.MkdirAll(cfg.PendingDir, 0o755); err != nil {
		t.Fatal(err)
	}

	store := storage.NewFileStore(filepath.Join(root, "data"))
	m := uploaders.NewManager()
	for _, u := range ups {
		m.AddUploader(u)
	}
	svc := &Service{
		cfg:       cfg,
		log:       logging.Discard(),
		store:     store,
		meta:      metadata.NewStore(store, "metadata.json"),
		uploaders: m,
		captions:  captions.NewPicker(cfg.Captions, "", rand.NewPCG(1, 2)),
		newRunID:  func() string { return "0123456789abcdef" },
		now:       func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	return &testEnv{svc: svc, pending: cfg.PendingDir, posted: cfg.PostedDir}
}

func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.pending, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRunOnceEndToEnd(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt123"}
	env := newTestEnv(t, internal.PolicyAny, yt)
	env.write(t, "a.mp4", "video")
	env.write(t, "b.txt", "notes")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Moved || !exists(filepath.Join(env.posted, "a.mp4")) || exists(filepath.Join(env.pending, "a.mp4")) {
		t.Fatalf("a.mp4 should be moved, report=%+v", report)
	}
	if !exists(filepath.Join(env.pending, "b.txt")) {
		t.Fatal("b.txt must stay in pending")
	}
	if report.Title != "a" || report.Caption != "Legenda A" {
		t.Fatalf("unexpected title/caption %q %q", report.Title, report.Caption)
	}

	_, rec, err := env.svc.meta.FindByFile(context.Background(), "a.mp4")
	if err != nil || rec == nil {
		t.Fatalf("metadata record missing: %v", err)
	}
	if rec.VideoID != "yt123" || rec.IDs["youtube"] != "yt123" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRunOncePolicyAllKeepsVideoOnPartialFailure(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	ig := &stubUploader{platform: "instagram", err: errors.New("container failed")}
	env := newTestEnv(t, internal.PolicyAll, yt, ig)
	env.write(t, "a.mp4", "video")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Moved || !exists(filepath.Join(env.pending, "a.mp4")) {
		t.Fatal("all policy must not move after a partial failure")
	}
	if yt.calls != 1 || ig.calls != 1 {
		t.Fatalf("every uploader must be attempted, got yt=%d ig=%d", yt.calls, ig.calls)
	}
	if got := report.Succeeded(); !reflect.DeepEqual(got, []string{"youtube"}) {
		t.Fatalf("unexpected successes %v", got)
	}
	if _, rec, _ := env.svc.meta.FindByFile(context.Background(), "a.mp4"); rec == nil {
		t.Fatal("a partial success is still recorded")
	}
}

func TestRunOncePolicyAnyMovesOnPartialFailure(t *testing.T) {
	yt := &stubUploader{platform: "youtube", err: errors.New("quota")}
	ig := &stubUploader{platform: "instagram", id: "m1"}
	env := newTestEnv(t, internal.PolicyAny, yt, ig)
	env.write(t, "a.mp4", "video")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Moved || !exists(filepath.Join(env.posted, "a.mp4")) {
		t.Fatal("any policy must move after one success")
	}
}

func TestRunOnceAllFailuresKeepVideo(t *testing.T) {
	yt := &stubUploader{platform: "youtube", err: errors.New("quota")}
	env := newTestEnv(t, internal.PolicyAny, yt)
	env.write(t, "a.mp4", "video")
	n := &recordingNotifier{}
	env.svc.notifier = n

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Moved || !exists(filepath.Join(env.pending, "a.mp4")) {
		t.Fatal("video must stay pending when nothing succeeded")
	}
	if _, rec, _ := env.svc.meta.FindByFile(context.Background(), "a.mp4"); rec != nil {
		t.Fatal("no record expected without a success")
	}
	if len(n.texts) != 1 || !n.withErrors[0] || !strings.Contains(n.texts[0], "youtube: quota") {
		t.Fatalf("unexpected notification %v %v", n.texts, n.withErrors)
	}
}

func TestRunOnceZeroPlatformsLeavesFolderUntouched(t *testing.T) {
	env := newTestEnv(t, internal.PolicyAll)
	env.write(t, "a.mp4", "video")
	env.write(t, "b.txt", "notes")
	before := snapshotDir(t, env.pending)

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Moved || len(report.Attempts) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if after := snapshotDir(t, env.pending); !reflect.DeepEqual(before, after) {
		t.Fatalf("pending folder changed: %v -> %v", before, after)
	}
	if exists(env.posted) {
		t.Fatal("posted folder must not be created")
	}
}

func TestRunOnceDryRunMakesNoCalls(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	env := newTestEnv(t, internal.PolicyAny, yt)
	env.svc.cfg.DryRun = true
	env.write(t, "a.mp4", "video")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if yt.calls != 0 || report.Moved || report.Skipped != "dry run" {
		t.Fatalf("dry run must not publish or move: calls=%d report=%+v", yt.calls, report)
	}
	if !exists(filepath.Join(env.pending, "a.mp4")) {
		t.Fatal("video must stay pending in dry run")
	}
}

func TestRunOnceExposureFailureDoesNotBlockYouTube(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	ig := &stubUploader{platform: "instagram", needsURL: true, id: "m1"}
	env := newTestEnv(t, internal.PolicyAny, yt, ig)
	env.svc.expose = func(context.Context) (Exposure, error) {
		return nil, errors.New("ngrok not running")
	}
	env.write(t, "a.mp4", "video")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if yt.calls != 1 || ig.calls != 0 {
		t.Fatalf("expected youtube only, got yt=%d ig=%d", yt.calls, ig.calls)
	}
	if len(report.Attempts) != 2 || report.Attempts[1].Success || !strings.Contains(report.Attempts[1].Error, "no public url") {
		t.Fatalf("instagram should fail for lack of a public url: %+v", report.Attempts)
	}
	if !report.Moved {
		t.Fatal("any policy moves after the youtube success")
	}
}

func TestRunOnceExposesAndClosesTunnel(t *testing.T) {
	ig := &stubUploader{platform: "instagram", needsURL: true, id: "m1"}
	env := newTestEnv(t, internal.PolicyAll, ig)
	exp := &fakeExposure{}
	env.svc.expose = func(context.Context) (Exposure, error) { return exp, nil }
	env.write(t, "a.mp4", "video")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ig.publicURL != "https://public.example/a.mp4" {
		t.Fatalf("unexpected public url %q", ig.publicURL)
	}
	if exp.closed != 1 {
		t.Fatalf("exposure should be closed exactly once, got %d", exp.closed)
	}
	if !report.Moved {
		t.Fatal("expected move after the only platform succeeded")
	}
}

func TestRunOnceNoExposureWithoutURLUploaders(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	env := newTestEnv(t, internal.PolicyAny, yt)
	env.svc.expose = func(context.Context) (Exposure, error) {
		t.Fatal("exposure must not start when no uploader needs it")
		return nil, nil
	}
	env.write(t, "a.mp4", "video")
	if _, err := env.svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunOnceNothingPending(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	env := newTestEnv(t, internal.PolicyAny, yt)
	env.write(t, "notes.txt", "x")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != "no pending video" || yt.calls != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunOnceMoveDisabled(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	env := newTestEnv(t, internal.PolicyAny, yt)
	env.svc.cfg.MoveAfterPost = false
	env.write(t, "a.mp4", "video")

	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Moved || !exists(filepath.Join(env.pending, "a.mp4")) {
		t.Fatal("video must stay when moving is disabled")
	}
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	yt := &stubUploader{platform: "youtube", id: "yt1"}
	env := newTestEnv(t, internal.PolicyAny, yt)
	lock := filepath.Join(t.TempDir(), "autopost.lock")
	env.svc.cfg.LockFile = lock
	env.write(t, "a.mp4", "video")

	if err := os.WriteFile(lock, []byte("999"), 0o644); err != nil {
		t.Fatal(err)
	}
	// keep the lock fresh relative to the service clock
	if err := os.Chtimes(lock, env.svc.now(), env.svc.now()); err != nil {
		t.Fatal(err)
	}
	report, err := env.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Skipped != "locked" || yt.calls != 0 {
		t.Fatalf("expected locked skip, got %+v", report)
	}

	if err := os.Remove(lock); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if yt.calls != 1 || exists(lock) {
		t.Fatalf("expected a run that releases the lock, calls=%d", yt.calls)
	}
}

func TestShouldRelocate(t *testing.T) {
	ok := &uploaders.UploadResult{Success: true}
	bad := &uploaders.UploadResult{}
	cases := []struct {
		policy     string
		attempts   []*uploaders.UploadResult
		configured int
		want       bool
	}{
		{internal.PolicyAny, nil, 0, false},
		{internal.PolicyAll, nil, 0, false},
		{internal.PolicyAny, []*uploaders.UploadResult{bad, ok}, 2, true},
		{internal.PolicyAny, []*uploaders.UploadResult{bad, bad}, 2, false},
		{internal.PolicyAll, []*uploaders.UploadResult{ok, bad}, 2, false},
		{internal.PolicyAll, []*uploaders.UploadResult{ok, ok}, 2, true},
		{internal.PolicyAll, []*uploaders.UploadResult{ok}, 2, false},
	}
	for i, tc := range cases {
		if got := ShouldRelocate(tc.policy, tc.attempts, tc.configured); got != tc.want {
			t.Errorf("case %d: ShouldRelocate = %v, want %v", i, got, tc.want)
		}
	}
}

func snapshotDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]string{}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = string(b)
	}
	return out
}
