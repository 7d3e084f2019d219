package internal

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration problems. The CLI exits non-zero on them.
var ErrConfig = errors.New("configuration error")

const (
	PlatformYouTube   = "youtube"
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformTikTok    = "tiktok"

	PolicyAny = "any"
	PolicyAll = "all"

	InstagramModeURL       = "url"
	InstagramModeResumable = "resumable"
)

// DefaultCaptions is the caption catalog used when none is configured.
var DefaultCaptions = []string{
	"🚀 Novo conteúdo no canal! Curtiu? Deixa um like e compartilha. #shorts #conteudo #aprenda",
	"🔥 Dica rápida pra você aplicar hoje — não esquece de salvar! #reels #aprendizado #viral",
	"🎯 Foco e consistência: pequenas ações, grandes resultados. #motivacao #shorts #trabalho",
}

var knownPlatforms = []string{PlatformYouTube, PlatformInstagram, PlatformFacebook, PlatformTikTok}

type YouTubeConfig struct {
	ClientSecretJSON string // YOUTUBE_CLIENT_SECRET_JSON, raw client_secret.json content
	TokenB64         string // YOUTUBE_TOKEN_B64, base64 of the token JSON
	OAuthJSON        string // YOUTUBE_OAUTH_JSON, token + client in one JSON document
	CategoryID       string
	Privacy          string
	ChunkSize        int // bytes per resumable chunk
	ScratchDir       string
}

func (c YouTubeConfig) Configured() bool {
	return c.OAuthJSON != "" || (c.ClientSecretJSON != "" && c.TokenB64 != "")
}

// TokenIsPickle reports whether TokenB64 decodes to a Python pickle, the
// format of the old token.pickle secrets. Those cannot be read; the operator
// has to mint a JSON token with generate_token.
func (c YouTubeConfig) TokenIsPickle() bool {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.TokenB64))
	return err == nil && len(raw) > 0 && raw[0] == 0x80
}

type InstagramConfig struct {
	AccessToken   string
	UserID        string
	GraphVersion  string
	GraphBaseURL  string
	UploadMode    string // url | resumable
	PollInterval  time.Duration
	PollAttempts  int
	UploadTimeout time.Duration
}

func (c InstagramConfig) Configured() bool {
	return c.AccessToken != "" && c.UserID != ""
}

type FacebookConfig struct {
	PageID       string
	PageToken    string
	GraphVersion string
	GraphBaseURL string
}

func (c FacebookConfig) Configured() bool {
	return c.PageID != "" && c.PageToken != ""
}

type TikTokConfig struct {
	Username  string
	Password  string
	SessionID string
	Headless  bool
	UploadURL string
	DebugDir  string
	Timeout   time.Duration
}

func (c TikTokConfig) Configured() bool {
	return c.SessionID != "" || (c.Username != "" && c.Password != "")
}

type TunnelConfig struct {
	ServerPort     int
	NgrokAPIURL    string
	NgrokStart     bool
	NgrokBin       string
	NgrokAuthToken string
	Attempts       int
	Interval       time.Duration
	PublicBaseURL  string // skips the tunnel when set
}

type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ArchivePosted  bool
	ArchivePrefix  string
	MetadataPrefix string
}

func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.Region != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	PendingDir      string
	PostedDir       string
	VideoExtensions []string

	Captions          []string
	CaptionPrefix     string
	DescriptionSuffix string
	Tags              []string

	Platforms     []string // ordered; empty means every platform with credentials
	Policy        string   // any | all
	MoveAfterPost bool
	DryRun        bool
	LockFile      string

	YouTube   YouTubeConfig
	Instagram InstagramConfig
	Facebook  FacebookConfig
	TikTok    TikTokConfig
	Tunnel    TunnelConfig
	S3        S3Config

	DataDir     string
	MetadataKey string
	MetricsKey  string

	TelegramToken  string
	TelegramChatID int64
	GeminiAPIKey   string

	PostTimes   []string // HH:MM, daemon mode
	MetricsCron string   // cron spec with seconds, daemon mode
	Timezone    string

	// daemon queue monitor; warns when fewer videos than LowWater are pending
	MonitorInterval time.Duration
	LowWater        int

	ErrorsLog  string
	ConfigFile string
}

// RequireAll reports whether every configured platform must succeed before
// the video is relocated.
func (c Config) RequireAll() bool {
	return c.Policy == PolicyAll
}

// fileConfig mirrors the YAML schedule file used by the scheduled variant.
type fileConfig struct {
	PendingDir    *string  `yaml:"pending_dir"`
	PostedDir     *string  `yaml:"posted_dir"`
	DryRun        *bool    `yaml:"dry_run"`
	RequireBoth   *bool    `yaml:"require_both_platforms_success"`
	MoveAfterPost *bool    `yaml:"move_after_post"`
	Captions      []string `yaml:"captions"`
	Platforms     []string `yaml:"platforms"`
	Tags          []string `yaml:"tags"`
	PostTimes     []string `yaml:"post_times"`
	YouTube       struct {
		CategoryID string `yaml:"category_id"`
		Privacy    string `yaml:"privacy"`
	} `yaml:"youtube"`
}

func defaults() Config {
	return Config{
		PendingDir:        filepath.Join("videos", "pending"),
		PostedDir:         filepath.Join("videos", "posted"),
		VideoExtensions:   []string{".mp4", ".mov", ".avi", ".mkv"},
		Captions:          append([]string(nil), DefaultCaptions...),
		DescriptionSuffix: "\n\nPublicado automaticamente.",
		Tags:              []string{"shorts", "reels", "automacao"},
		Policy:            PolicyAny,
		MoveAfterPost:     true,

		YouTube: YouTubeConfig{
			CategoryID: "22",
			Privacy:    "public",
			ChunkSize:  8 * 1024 * 1024,
			ScratchDir: ".secrets",
		},
		Instagram: InstagramConfig{
			GraphVersion:  "v20.0",
			GraphBaseURL:  "https://graph.facebook.com",
			UploadMode:    InstagramModeURL,
			PollInterval:  5 * time.Second,
			PollAttempts:  36,
			UploadTimeout: 10 * time.Minute,
		},
		Facebook: FacebookConfig{
			GraphVersion: "v20.0",
			GraphBaseURL: "https://graph.facebook.com",
		},
		TikTok: TikTokConfig{
			Headless:  true,
			UploadURL: "https://www.tiktok.com/upload?lang=pt",
			DebugDir:  "debug",
			Timeout:   5 * time.Minute,
		},
		Tunnel: TunnelConfig{
			ServerPort:  8000,
			NgrokAPIURL: "http://127.0.0.1:4040/api/tunnels",
			NgrokBin:    "ngrok",
			Attempts:    30,
			Interval:    time.Second,
		},
		S3: S3Config{
			ArchivePrefix:  "posted/",
			MetadataPrefix: "autopost/",
		},

		DataDir:     "data",
		MetadataKey: "metadata.json",
		MetricsKey:  "metrics.json",

		PostTimes:   []string{"06:00", "14:00", "22:00"},
		MetricsCron: "0 30 23 * * *",
		Timezone:    "America/Sao_Paulo",

		MonitorInterval: 30 * time.Minute,
		LowWater:        3,

		ErrorsLog:  "errors.log",
		ConfigFile: "post_schedule.yml",
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// and the environment, in that order of precedence (environment wins).
func LoadConfig() (Config, error) {
	cfg := defaults()

	if v := os.Getenv("CONFIG_FILE"); v != "" {
		cfg.ConfigFile = v
		if err := applyFile(&cfg, v, true); err != nil {
			return cfg, err
		}
	} else if err := applyFile(&cfg, cfg.ConfigFile, false); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string, required bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("%w: read config file %s: %v", ErrConfig, path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", ErrConfig, path, err)
	}

	if fc.PendingDir != nil {
		cfg.PendingDir = *fc.PendingDir
	}
	if fc.PostedDir != nil {
		cfg.PostedDir = *fc.PostedDir
	}
	if fc.DryRun != nil {
		cfg.DryRun = *fc.DryRun
	}
	if fc.RequireBoth != nil && *fc.RequireBoth {
		cfg.Policy = PolicyAll
	}
	if fc.MoveAfterPost != nil {
		cfg.MoveAfterPost = *fc.MoveAfterPost
	}
	if fc.Captions != nil {
		cfg.Captions = fc.Captions
	}
	if len(fc.Platforms) > 0 {
		cfg.Platforms = normalizeList(fc.Platforms)
	}
	if len(fc.Tags) > 0 {
		cfg.Tags = fc.Tags
	}
	if len(fc.PostTimes) > 0 {
		cfg.PostTimes = fc.PostTimes
	}
	if fc.YouTube.CategoryID != "" {
		cfg.YouTube.CategoryID = fc.YouTube.CategoryID
	}
	if fc.YouTube.Privacy != "" {
		cfg.YouTube.Privacy = fc.YouTube.Privacy
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.PendingDir, "PENDING_DIR")
	setString(&cfg.PostedDir, "POSTED_DIR")
	if v := os.Getenv("VIDEO_EXTENSIONS"); v != "" {
		cfg.VideoExtensions = lo.Map(splitList(v), func(e string, _ int) string {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			return strings.ToLower(e)
		})
	}
	if v := os.Getenv("CAPTIONS"); v != "" {
		// one caption per line; captions contain commas
		cfg.Captions = lo.Compact(lo.Map(strings.Split(v, "\n"), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
	}
	setString(&cfg.CaptionPrefix, "CAPTION_PREFIX")
	setString(&cfg.DescriptionSuffix, "DESCRIPTION_SUFFIX")
	if v := os.Getenv("TAGS"); v != "" {
		cfg.Tags = splitList(v)
	}
	if v := os.Getenv("PLATFORMS"); v != "" {
		cfg.Platforms = normalizeList(splitList(v))
	}
	if v := os.Getenv("PUBLISH_POLICY"); v != "" {
		cfg.Policy = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := envBool("REQUIRE_ALL_PLATFORMS"); ok && v {
		cfg.Policy = PolicyAll
	}
	setBool(&cfg.MoveAfterPost, "MOVE_AFTER_POST")
	setBool(&cfg.DryRun, "DRY_RUN")
	setString(&cfg.LockFile, "LOCK_FILE")

	setString(&cfg.YouTube.ClientSecretJSON, "YOUTUBE_CLIENT_SECRET_JSON")
	// YOUTUBE_TOKEN_PICKLE kept as an alias for secrets re-minted under their old
	// name; a value that still holds a pickle is rejected by Validate
	cfg.YouTube.TokenB64 = firstNonEmpty(os.Getenv("YOUTUBE_TOKEN_B64"), os.Getenv("YOUTUBE_TOKEN_PICKLE"), cfg.YouTube.TokenB64)
	setString(&cfg.YouTube.OAuthJSON, "YOUTUBE_OAUTH_JSON")
	setString(&cfg.YouTube.CategoryID, "YOUTUBE_CATEGORY_ID")
	setString(&cfg.YouTube.Privacy, "YOUTUBE_PRIVACY")
	setPositiveInt(&cfg.YouTube.ChunkSize, "YOUTUBE_CHUNK_SIZE")
	setString(&cfg.YouTube.ScratchDir, "SCRATCH_DIR")

	setString(&cfg.Instagram.AccessToken, "IG_ACCESS_TOKEN")
	setString(&cfg.Instagram.UserID, "IG_USER_ID")
	setString(&cfg.Instagram.GraphVersion, "GRAPH_API_VERSION")
	setString(&cfg.Instagram.GraphBaseURL, "GRAPH_BASE_URL")
	if v := os.Getenv("IG_UPLOAD_MODE"); v != "" {
		cfg.Instagram.UploadMode = strings.ToLower(strings.TrimSpace(v))
	}
	setDuration(&cfg.Instagram.PollInterval, "IG_POLL_INTERVAL")
	setPositiveInt(&cfg.Instagram.PollAttempts, "IG_POLL_ATTEMPTS")
	setDuration(&cfg.Instagram.UploadTimeout, "IG_UPLOAD_TIMEOUT")

	setString(&cfg.Facebook.PageID, "FB_PAGE_ID")
	setString(&cfg.Facebook.PageToken, "FB_PAGE_TOKEN")
	cfg.Facebook.GraphVersion = cfg.Instagram.GraphVersion
	cfg.Facebook.GraphBaseURL = cfg.Instagram.GraphBaseURL

	setString(&cfg.TikTok.Username, "TIKTOK_USERNAME")
	setString(&cfg.TikTok.Password, "TIKTOK_PASSWORD")
	setString(&cfg.TikTok.SessionID, "TIKTOK_SESSION_ID")
	setBool(&cfg.TikTok.Headless, "HEADLESS")
	setString(&cfg.TikTok.UploadURL, "TIKTOK_UPLOAD_URL")
	setString(&cfg.TikTok.DebugDir, "DEBUG_DIR")
	setDuration(&cfg.TikTok.Timeout, "TIKTOK_TIMEOUT")

	setPositiveInt(&cfg.Tunnel.ServerPort, "HTTP_SERVER_PORT")
	setString(&cfg.Tunnel.NgrokAPIURL, "NGROK_API_URL")
	setBool(&cfg.Tunnel.NgrokStart, "NGROK_START")
	setString(&cfg.Tunnel.NgrokBin, "NGROK_BIN")
	setString(&cfg.Tunnel.NgrokAuthToken, "NGROK_AUTH_TOKEN")
	if cfg.Tunnel.NgrokAuthToken != "" {
		// a token only makes sense if we are the ones launching ngrok
		cfg.Tunnel.NgrokStart = true
		setBool(&cfg.Tunnel.NgrokStart, "NGROK_START")
	}
	setPositiveInt(&cfg.Tunnel.Attempts, "TUNNEL_ATTEMPTS")
	setDuration(&cfg.Tunnel.Interval, "TUNNEL_INTERVAL")
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Tunnel.PublicBaseURL = strings.TrimRight(v, "/")
	}

	setString(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setString(&cfg.S3.Region, "S3_REGION")
	setString(&cfg.S3.Bucket, "S3_BUCKET")
	cfg.S3.AccessKey = firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID"), cfg.S3.AccessKey)
	cfg.S3.SecretKey = firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"), cfg.S3.SecretKey)
	setBool(&cfg.S3.ArchivePosted, "S3_ARCHIVE_POSTED")
	setString(&cfg.S3.ArchivePrefix, "S3_ARCHIVE_PREFIX")
	setString(&cfg.S3.MetadataPrefix, "S3_METADATA_PREFIX")

	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.MetadataKey, "METADATA_KEY")
	setString(&cfg.MetricsKey, "METRICS_KEY")

	setString(&cfg.TelegramToken, "TELEGRAM_BOT_TOKEN")
	if v := firstNonEmpty(os.Getenv("TELEGRAM_CHAT_ID"), os.Getenv("POSTS_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		}
	}
	cfg.GeminiAPIKey = firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"), cfg.GeminiAPIKey)

	if v := os.Getenv("POST_TIMES"); v != "" {
		cfg.PostTimes = splitList(v)
	}
	setString(&cfg.MetricsCron, "METRICS_CRON")
	setString(&cfg.Timezone, "TZ_NAME")
	setDuration(&cfg.MonitorInterval, "MONITOR_INTERVAL")
	setPositiveInt(&cfg.LowWater, "PENDING_LOW_WATER")
	setString(&cfg.ErrorsLog, "ERRORS_LOG")
}

// Validate reports configuration errors that make a run pointless.
func (c Config) Validate() error {
	if len(c.Captions) == 0 {
		return fmt.Errorf("%w: caption catalog is empty", ErrConfig)
	}
	if len(c.VideoExtensions) == 0 {
		return fmt.Errorf("%w: no video extensions configured", ErrConfig)
	}
	if c.Policy != PolicyAny && c.Policy != PolicyAll {
		return fmt.Errorf("%w: unknown publish policy %q (want any or all)", ErrConfig, c.Policy)
	}
	if !lo.Contains([]string{"public", "unlisted", "private"}, c.YouTube.Privacy) {
		return fmt.Errorf("%w: invalid YouTube privacy %q", ErrConfig, c.YouTube.Privacy)
	}
	if c.YouTube.OAuthJSON == "" && c.YouTube.TokenIsPickle() {
		return fmt.Errorf("%w: YOUTUBE_TOKEN_B64 holds a pickled token, run generate_token and store its base64 output instead", ErrConfig)
	}
	if c.Instagram.UploadMode != InstagramModeURL && c.Instagram.UploadMode != InstagramModeResumable {
		return fmt.Errorf("%w: invalid IG_UPLOAD_MODE %q", ErrConfig, c.Instagram.UploadMode)
	}

	for _, p := range c.Platforms {
		if !lo.Contains(knownPlatforms, p) {
			return fmt.Errorf("%w: unknown platform %q", ErrConfig, p)
		}
		if !c.platformConfigured(p) {
			return fmt.Errorf("%w: platform %s requested but its credentials are missing", ErrConfig, p)
		}
	}
	if len(c.EnabledPlatforms()) == 0 {
		return fmt.Errorf("%w: no platform credentials configured", ErrConfig)
	}
	return nil
}

// EnabledPlatforms returns the platforms to publish to, in order.
func (c Config) EnabledPlatforms() []string {
	if len(c.Platforms) > 0 {
		return lo.Filter(c.Platforms, func(p string, _ int) bool { return c.platformConfigured(p) })
	}
	return lo.Filter(knownPlatforms, func(p string, _ int) bool { return c.platformConfigured(p) })
}

func (c Config) platformConfigured(p string) bool {
	switch p {
	case PlatformYouTube:
		return c.YouTube.Configured()
	case PlatformInstagram:
		return c.Instagram.Configured()
	case PlatformFacebook:
		return c.Facebook.Configured()
	case PlatformTikTok:
		return c.TikTok.Configured()
	}
	return false
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := envBool(key); ok {
		*dst = v
	}
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, false
	}
	return b, true
}

func setPositiveInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	return lo.Compact(lo.Map(strings.Split(v, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
}

func normalizeList(in []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(in, func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	})))
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
