package model

import (
	"path/filepath"
	"strings"
	"time"
)

// PendingVideo is a file waiting in the pending directory.
type PendingVideo struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"` // absolute
	Extension string  `json:"extension"`
	Size      int64   `json:"size"`
	DurationS float64 `json:"duration_s,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
}

// Stem returns the file name without its extension.
func (v *PendingVideo) Stem() string {
	return strings.TrimSuffix(v.Name, filepath.Ext(v.Name))
}

// Hook is a content template bucket used to vary titles and descriptions
// between uploads.
type Hook struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Tags        []string    `json:"tags,omitempty"`
	Videos      []HookVideo `json:"videos,omitempty"`
}

// HookVideo records one published video under a hook.
type HookVideo struct {
	File     string            `json:"file"`
	Title    string            `json:"title"`
	Caption  string            `json:"caption"`
	VideoID  string            `json:"video_id,omitempty"` // YouTube video ID
	IDs      map[string]string `json:"ids,omitempty"`      // platform -> remote ID
	PostedAt time.Time         `json:"posted_at"`
}

// MetadataIndex is the metadata.json document.
type MetadataIndex struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Hooks     map[string]*Hook `json:"hooks"`
}

// YouTubeVideoStats is one row of the YouTube section of metrics.json.
type YouTubeVideoStats struct {
	VideoID     string `json:"videoId"`
	Title       string `json:"title"`
	PublishedAt string `json:"publishedAt"`
	Views       uint64 `json:"views"`
	Likes       uint64 `json:"likes"`
	Comments    uint64 `json:"comments"`
}

type YouTubeChannelStats struct {
	ChannelID   string `json:"channelId"`
	Title       string `json:"title"`
	Subscribers uint64 `json:"subscribers"`
	Views       uint64 `json:"views"`
	Videos      uint64 `json:"videos"`
}

// InstagramMediaStats is one row of the Instagram section of metrics.json.
type InstagramMediaStats struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	MediaType string `json:"media_type"`
	Likes     int64  `json:"likes"`
	Comments  int64  `json:"comments"`
	Timestamp string `json:"timestamp"`
	Permalink string `json:"permalink"`
}

// MetricsSnapshot is the metrics.json document.
type MetricsSnapshot struct {
	FetchedAt      time.Time             `json:"fetched_at"`
	YouTube        []YouTubeVideoStats   `json:"youtube"`
	YouTubeChannel *YouTubeChannelStats  `json:"youtube_channel,omitempty"`
	Instagram      []InstagramMediaStats `json:"instagram"`
}
