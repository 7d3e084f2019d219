package uploaders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"video-autopost/internal"
)

type fakeGraph struct {
	mu        sync.Mutex
	statuses  []string // returned in order by the status poll, last one repeats
	polls     int
	published []string
	publishOK bool
	uploaded  []byte
	headers   http.Header
	srv       *httptest.Server
}

func newFakeGraph(t *testing.T, statuses ...string) *fakeGraph {
	t.Helper()
	fg := &fakeGraph{statuses: statuses, publishOK: true}
	fg.srv = httptest.NewServer(http.HandlerFunc(fg.handle))
	t.Cleanup(fg.srv.Close)
	return fg
}

func (fg *fakeGraph) handle(w http.ResponseWriter, r *http.Request) {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/rupload/c1" {
		fg.uploaded, _ = io.ReadAll(r.Body)
		fg.headers = r.Header.Clone()
		fmt.Fprint(w, `{"success":true}`)
		return
	}

	_ = r.ParseForm()
	if r.Form.Get("access_token") != "tok" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad token"}}`)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v20.0/u1/media":
		if r.PostForm.Get("upload_type") == "resumable" {
			fmt.Fprintf(w, `{"id":"c1","uri":"%s/rupload/c1"}`, fg.srv.URL)
			return
		}
		if r.PostForm.Get("video_url") == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"video_url required"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"c1"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v20.0/c1":
		status := fg.statuses[min(fg.polls, len(fg.statuses)-1)]
		fg.polls++
		fmt.Fprintf(w, `{"status_code":%q,"status":"detail","id":"c1"}`, status)
	case r.Method == http.MethodPost && r.URL.Path == "/v20.0/u1/media_publish":
		fg.published = append(fg.published, r.PostForm.Get("creation_id"))
		if !fg.publishOK {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"media not ready"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"m1"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v20.0/m1":
		fmt.Fprint(w, `{"permalink":"https://instagram.com/reel/abc"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"not found"}}`)
	}
}

func (fg *fakeGraph) instagram(mode string) *InstagramUploader {
	return NewInstagramUploader(internal.InstagramConfig{
		AccessToken:  "tok",
		UserID:       "u1",
		GraphVersion: "v20.0",
		GraphBaseURL: fg.srv.URL,
		UploadMode:   mode,
		PollInterval: time.Millisecond,
		PollAttempts: 5,
	}, nil)
}

func TestInstagramURLModePublishes(t *testing.T) {
	fg := newFakeGraph(t, "IN_PROGRESS", "IN_PROGRESS", "FINISHED")
	ig := fg.instagram(internal.InstagramModeURL)
	if !ig.RequiresPublicURL() {
		t.Fatal("url mode must require a public url")
	}

	res, err := ig.Upload(context.Background(), &UploadRequest{
		FileName:  "a.mp4",
		PublicURL: "https://example.ngrok.app/a.mp4",
		Caption:   "hello",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !res.Success || res.ID != "m1" || res.URL != "https://instagram.com/reel/abc" {
		t.Fatalf("unexpected result %+v", res)
	}
	if fg.polls != 3 {
		t.Fatalf("expected 3 status polls, got %d", fg.polls)
	}
	if len(fg.published) != 1 || fg.published[0] != "c1" {
		t.Fatalf("unexpected publish calls %v", fg.published)
	}
}

func TestInstagramURLModeWithoutPublicURL(t *testing.T) {
	fg := newFakeGraph(t, "FINISHED")
	res, err := fg.instagram(internal.InstagramModeURL).Upload(context.Background(), &UploadRequest{FileName: "a.mp4"})
	if !errors.Is(err, ErrNoPublicURL) {
		t.Fatalf("expected ErrNoPublicURL, got %v", err)
	}
	if res == nil || res.Success {
		t.Fatalf("expected failed result, got %+v", res)
	}
}

func TestInstagramContainerErrorStopsPolling(t *testing.T) {
	fg := newFakeGraph(t, "IN_PROGRESS", "ERROR")
	res, err := fg.instagram(internal.InstagramModeURL).Upload(context.Background(), &UploadRequest{
		PublicURL: "https://example.ngrok.app/a.mp4",
	})
	if !errors.Is(err, ErrContainerFailed) {
		t.Fatalf("expected ErrContainerFailed, got %v", err)
	}
	if fg.polls != 2 {
		t.Fatalf("expected polling to stop at ERROR, got %d polls", fg.polls)
	}
	if len(fg.published) != 0 {
		t.Fatal("must not publish a failed container")
	}
	if res.Details["container_id"] != "c1" {
		t.Fatalf("expected container id in details, got %v", res.Details)
	}
}

func TestInstagramContainerNeverFinishes(t *testing.T) {
	fg := newFakeGraph(t, "IN_PROGRESS")
	_, err := fg.instagram(internal.InstagramModeURL).Upload(context.Background(), &UploadRequest{
		PublicURL: "https://example.ngrok.app/a.mp4",
	})
	if !errors.Is(err, ErrContainerFailed) {
		t.Fatalf("expected ErrContainerFailed, got %v", err)
	}
	if fg.polls != 5 {
		t.Fatalf("expected exactly 5 polls, got %d", fg.polls)
	}
}

func TestInstagramPublishFailureKeepsContainerID(t *testing.T) {
	fg := newFakeGraph(t, "FINISHED")
	fg.publishOK = false
	res, err := fg.instagram(internal.InstagramModeURL).Upload(context.Background(), &UploadRequest{
		PublicURL: "https://example.ngrok.app/a.mp4",
	})
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
	if res.Success || res.Details["container_id"] != "c1" || res.Details["state"] != "uploaded but unpublished" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInstagramResumableUpload(t *testing.T) {
	fg := newFakeGraph(t, "FINISHED")
	ig := fg.instagram(internal.InstagramModeResumable)
	if ig.RequiresPublicURL() {
		t.Fatal("resumable mode must not require a public url")
	}

	path := filepath.Join(t.TempDir(), "a.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := ig.Upload(context.Background(), &UploadRequest{VideoPath: path, FileName: "a.mp4", Caption: "c"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !res.Success || res.ID != "m1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if string(fg.uploaded) != "0123456789" {
		t.Fatalf("unexpected uploaded bytes %q", fg.uploaded)
	}
	if fg.headers.Get("Authorization") != "OAuth tok" || fg.headers.Get("file_size") != "10" || fg.headers.Get("offset") != "0" {
		t.Fatalf("unexpected transfer headers %v", fg.headers)
	}
}

func TestInstagramMissingCredential(t *testing.T) {
	ig := NewInstagramUploader(internal.InstagramConfig{}, nil)
	_, err := ig.Upload(context.Background(), &UploadRequest{PublicURL: "https://x/a.mp4"})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}
