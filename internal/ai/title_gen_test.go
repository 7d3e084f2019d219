package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFallbackTitle(t *testing.T) {
	cases := map[string]string{
		"my_cool-video":   "my cool video",
		"  spaced__out  ": "spaced out",
		"plain":           "plain",
	}
	for in, want := range cases {
		if got := FallbackTitle(in); got != want {
			t.Errorf("FallbackTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateTitleWithoutKey(t *testing.T) {
	title, err := NewTitleGenerator("", nil).GenerateTitle(context.Background(), "gato_engracado", "legenda")
	if err != nil || title != "gato engracado" {
		t.Fatalf("unexpected (%q, %v)", title, err)
	}
}

func TestGenerateTitleFromGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"\"Gato mais engraçado do dia\"\n"}]}}]}`)
	}))
	defer srv.Close()

	tg := NewTitleGenerator("key", nil)
	tg.baseURL = srv.URL
	title, err := tg.GenerateTitle(context.Background(), "gato_engracado", "legenda")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if title != "Gato mais engraçado do dia" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestGenerateTitleFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	tg := NewTitleGenerator("key", nil)
	tg.baseURL = srv.URL
	title, err := tg.GenerateTitle(context.Background(), "gato_engracado", "legenda")
	if err == nil {
		t.Fatal("expected error")
	}
	if title != "gato engracado" {
		t.Fatalf("expected fallback title, got %q", title)
	}
}
