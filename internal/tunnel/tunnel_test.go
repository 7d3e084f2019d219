package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"video-autopost/internal"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestParsePublicURL(t *testing.T) {
	body := []byte(`{"tunnels":[
		{"public_url":"http://abc.ngrok.io","proto":"http","config":{"addr":"http://localhost:8000"}},
		{"public_url":"https://other.ngrok.io","proto":"https","config":{"addr":"http://localhost:9000"}},
		{"public_url":"https://abc.ngrok.io","proto":"https","config":{"addr":"http://localhost:8000"}}
	]}`)
	if got := ParsePublicURL(body, 8000); got != "https://abc.ngrok.io" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := ParsePublicURL(body, 7000); got != "https://other.ngrok.io" {
		t.Fatalf("expected first https fallback, got %q", got)
	}
	if got := ParsePublicURL([]byte(`{"tunnels":[]}`), 8000); got != "" {
		t.Fatalf("expected empty url, got %q", got)
	}
	if got := ParsePublicURL([]byte(`garbage`), 8000); got != "" {
		t.Fatalf("expected empty url, got %q", got)
	}
}

func TestStartServesFolderAndReturnsTunnelURL(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a b.mp4"), []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	port := freePort(t)

	calls := 0
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			fmt.Fprint(w, `{"tunnels":[]}`)
			return
		}
		fmt.Fprintf(w, `{"tunnels":[{"public_url":"https://x.ngrok.app","config":{"addr":"http://localhost:%d"}}]}`, port)
	}))
	defer api.Close()

	h := New(internal.TunnelConfig{
		ServerPort:  port,
		NgrokAPIURL: api.URL,
		Attempts:    5,
		Interval:    time.Millisecond,
	}, root, nil)

	exp, err := h.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exp.Close()

	if exp.URLFor("a b.mp4") != "https://x.ngrok.app/a%20b.mp4" {
		t.Fatalf("unexpected public url %s", exp.URLFor("a b.mp4"))
	}
	resp, err := http.Get(exp.LocalURL() + "/a%20b.mp4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "video" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}

	exp.Close()
	exp.Close()
	if _, err := http.Get(exp.LocalURL() + "/a%20b.mp4"); err == nil {
		t.Fatal("file server should be stopped after Close")
	}
}

func TestStartFailureReleasesPort(t *testing.T) {
	port := freePort(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tunnels":[]}`)
	}))
	defer api.Close()

	h := New(internal.TunnelConfig{
		ServerPort:  port,
		NgrokAPIURL: api.URL,
		Attempts:    3,
		Interval:    time.Millisecond,
	}, t.TempDir(), nil)

	exp, err := h.Start(context.Background())
	if !errors.Is(err, ErrNoTunnel) {
		t.Fatalf("expected ErrNoTunnel, got %v", err)
	}
	if exp != nil {
		t.Fatal("expected no exposure on failure")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Fatalf("port %d still held after failure: %v", port, err)
	}
	ln.Close()
}

func TestStartWithFixedBaseURL(t *testing.T) {
	h := New(internal.TunnelConfig{PublicBaseURL: "https://cdn.example.com/videos/"}, t.TempDir(), nil)
	exp, err := h.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exp.Close()
	if exp.URLFor("a.mp4") != "https://cdn.example.com/videos/a.mp4" {
		t.Fatalf("unexpected url %s", exp.URLFor("a.mp4"))
	}
	if exp.LocalURL() != "" {
		t.Fatal("no local server expected with a fixed base url")
	}
}

func TestStartUnreachableAPI(t *testing.T) {
	h := New(internal.TunnelConfig{
		ServerPort:  freePort(t),
		NgrokAPIURL: "http://127.0.0.1:1/api/tunnels",
		Attempts:    2,
		Interval:    time.Millisecond,
	}, t.TempDir(), nil)
	if _, err := h.Start(context.Background()); !errors.Is(err, ErrNoTunnel) {
		t.Fatalf("expected ErrNoTunnel, got %v", err)
	}
}
