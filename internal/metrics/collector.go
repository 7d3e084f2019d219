package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"video-autopost/internal"
	"video-autopost/internal/logging"
	"video-autopost/internal/metadata"
	"video-autopost/internal/model"
	"video-autopost/internal/storage"
	"video-autopost/internal/uploaders"
)

const instagramFields = "id,caption,like_count,comments_count,media_type,permalink,timestamp"

// Collector gathers engagement numbers for posted videos and stores them as
// metrics.json. A failing source yields an empty section, never an error.
type Collector struct {
	cfg   internal.Config
	store storage.JSONStore
	meta  *metadata.Store
	log   *logging.Logger
	http  *http.Client

	youtubeService func(ctx context.Context) (*youtube.Service, error)
	now            func() time.Time
}

func NewCollector(cfg internal.Config, store storage.JSONStore, meta *metadata.Store, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.Discard()
	}
	c := &Collector{
		cfg:   cfg,
		store: store,
		meta:  meta,
		log:   log,
		http:  &http.Client{Timeout: 30 * time.Second},
		now:   time.Now,
	}
	c.youtubeService = c.defaultYouTubeService
	return c
}

// Collect fetches every configured source and writes the snapshot.
func (c *Collector) Collect(ctx context.Context) (*model.MetricsSnapshot, error) {
	snap := &model.MetricsSnapshot{
		FetchedAt: c.now().UTC(),
		YouTube:   []model.YouTubeVideoStats{},
		Instagram: []model.InstagramMediaStats{},
	}

	if c.cfg.YouTube.Configured() {
		videos, channel, err := c.collectYouTube(ctx)
		if err != nil {
			c.log.Errorf("metrics: youtube: %v", err)
		} else {
			snap.YouTube, snap.YouTubeChannel = videos, channel
		}
	} else {
		c.log.Infof("metrics: youtube not configured, skipping")
	}

	if c.cfg.Instagram.Configured() {
		media, err := c.collectInstagram(ctx)
		if err != nil {
			c.log.Errorf("metrics: instagram: %v", err)
		} else {
			snap.Instagram = media
		}
	} else {
		c.log.Infof("metrics: instagram not configured, skipping")
	}

	key := lo.Ternary(c.cfg.MetricsKey != "", c.cfg.MetricsKey, "metrics.json")
	if err := c.store.WriteJSON(ctx, key, snap); err != nil {
		return snap, fmt.Errorf("write %s: %w", key, err)
	}
	c.log.Infof("metrics: saved %d youtube and %d instagram entries to %s", len(snap.YouTube), len(snap.Instagram), key)
	return snap, nil
}

func (c *Collector) defaultYouTubeService(ctx context.Context) (*youtube.Service, error) {
	client, err := uploaders.YouTubeClient(ctx, c.cfg.YouTube)
	if err != nil {
		return nil, err
	}
	return youtube.NewService(ctx, option.WithHTTPClient(client))
}

func (c *Collector) collectYouTube(ctx context.Context) ([]model.YouTubeVideoStats, *model.YouTubeChannelStats, error) {
	svc, err := c.youtubeService(ctx)
	if err != nil {
		return nil, nil, err
	}

	var channel *model.YouTubeChannelStats
	chResp, err := svc.Channels.List([]string{"snippet", "statistics"}).Mine(true).Context(ctx).Do()
	if err != nil {
		c.log.Warnf("metrics: youtube channel stats: %v", err)
	} else if len(chResp.Items) > 0 {
		ch := chResp.Items[0]
		channel = &model.YouTubeChannelStats{ChannelID: ch.Id}
		if ch.Snippet != nil {
			channel.Title = ch.Snippet.Title
		}
		if ch.Statistics != nil {
			channel.Subscribers = ch.Statistics.SubscriberCount
			channel.Views = ch.Statistics.ViewCount
			channel.Videos = ch.Statistics.VideoCount
		}
	}

	ids := []string{}
	if c.meta != nil {
		if ids, err = c.meta.RemoteIDs(ctx, internal.PlatformYouTube); err != nil {
			return nil, channel, err
		}
	}

	videos := []model.YouTubeVideoStats{}
	for _, chunk := range lo.Chunk(ids, 50) {
		resp, err := svc.Videos.List([]string{"snippet", "statistics"}).Id(chunk...).Context(ctx).Do()
		if err != nil {
			return nil, channel, fmt.Errorf("videos.list: %w", err)
		}
		for _, item := range resp.Items {
			row := model.YouTubeVideoStats{VideoID: item.Id}
			if item.Snippet != nil {
				row.Title = item.Snippet.Title
				row.PublishedAt = item.Snippet.PublishedAt
			}
			if item.Statistics != nil {
				row.Views = item.Statistics.ViewCount
				row.Likes = item.Statistics.LikeCount
				row.Comments = item.Statistics.CommentCount
			}
			videos = append(videos, row)
		}
	}
	return videos, channel, nil
}

func (c *Collector) collectInstagram(ctx context.Context) ([]model.InstagramMediaStats, error) {
	ig := c.cfg.Instagram
	base := strings.TrimRight(lo.Ternary(ig.GraphBaseURL != "", ig.GraphBaseURL, "https://graph.facebook.com"), "/")
	q := url.Values{
		"fields":       {instagramFields},
		"limit":        {"50"},
		"access_token": {ig.AccessToken},
	}
	endpoint := fmt.Sprintf("%s/%s/%s/media?%s", base, strings.Trim(ig.GraphVersion, "/"), ig.UserID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid response (status %d)", resp.StatusCode)
	}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return nil, fmt.Errorf("graph error: %s", msg.String())
	}

	items := gjson.GetBytes(body, "data").Array()
	return lo.Map(items, func(it gjson.Result, _ int) model.InstagramMediaStats {
		return model.InstagramMediaStats{
			ID:        it.Get("id").String(),
			Caption:   it.Get("caption").String(),
			MediaType: it.Get("media_type").String(),
			Likes:     it.Get("like_count").Int(),
			Comments:  it.Get("comments_count").Int(),
			Timestamp: it.Get("timestamp").String(),
			Permalink: it.Get("permalink").String(),
		}
	}), nil
}
