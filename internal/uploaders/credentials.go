package uploaders

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

// credentialState tracks where a YouTube token stands before an upload.
type credentialState int

const (
	credNone credentialState = iota
	credValid
	credExpiredRefreshable
	credExpiredNoRefresh
)

func (s credentialState) String() string {
	switch s {
	case credValid:
		return "valid"
	case credExpiredRefreshable:
		return "expired-refreshable"
	case credExpiredNoRefresh:
		return "expired-no-refresh"
	default:
		return "no-credential"
	}
}

// expiryLeeway treats tokens about to expire as expired so the upload does
// not start with a token that dies mid-transfer.
const expiryLeeway = time.Minute

var youtubeScopes = []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope}

// tokenData is the token document written by generate_token. It also accepts
// the field names of oauth2.Token so either form can be stored.
type tokenData struct {
	Token        string    `json:"token"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
}

func (t tokenData) oauthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  firstNonEmpty(t.Token, t.AccessToken),
		RefreshToken: t.RefreshToken,
		TokenType:    firstNonEmpty(t.TokenType, "Bearer"),
		Expiry:       t.Expiry,
	}
}

type youtubeCredentials struct {
	config    *oauth2.Config
	token     *oauth2.Token
	tokenPath string // scratch copy, rewritten after every refresh
	now       func() time.Time
}

// loadYouTubeCredentials builds credentials from either the combined OAuth
// JSON or the client secret plus base64 token pair.
func loadYouTubeCredentials(cfg internal.YouTubeConfig) (*youtubeCredentials, error) {
	var (
		oauthCfg *oauth2.Config
		data     tokenData
	)

	switch {
	case cfg.OAuthJSON != "":
		if err := json.Unmarshal([]byte(cfg.OAuthJSON), &data); err != nil {
			return nil, fmt.Errorf("parse YOUTUBE_OAUTH_JSON: %w", err)
		}
		if data.ClientID == "" || data.ClientSecret == "" {
			return nil, fmt.Errorf("%w: YOUTUBE_OAUTH_JSON lacks client_id/client_secret", ErrMissingCredential)
		}
		endpoint := google.Endpoint
		if data.TokenURI != "" {
			endpoint.TokenURL = data.TokenURI
		}
		oauthCfg = &oauth2.Config{
			ClientID:     data.ClientID,
			ClientSecret: data.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       youtubeScopes,
		}
	case cfg.ClientSecretJSON != "" && cfg.TokenB64 != "":
		c, err := google.ConfigFromJSON([]byte(cfg.ClientSecretJSON), youtubeScopes...)
		if err != nil {
			return nil, fmt.Errorf("parse client secret: %w", err)
		}
		oauthCfg = c
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.TokenB64))
		if err != nil {
			return nil, fmt.Errorf("decode YOUTUBE_TOKEN_B64: %w", err)
		}
		if cfg.TokenIsPickle() {
			return nil, fmt.Errorf("%w: YOUTUBE_TOKEN_B64 holds a pickled token, run generate_token", internal.ErrConfig)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: youtube", ErrMissingCredential)
	}

	creds := &youtubeCredentials{
		config: oauthCfg,
		token:  data.oauthToken(),
		now:    time.Now,
	}
	if cfg.ScratchDir != "" {
		creds.tokenPath = filepath.Join(cfg.ScratchDir, "youtube_token.json")
	}
	return creds, nil
}

func (c *youtubeCredentials) state() credentialState {
	if c == nil || c.token == nil || (c.token.AccessToken == "" && c.token.RefreshToken == "") {
		return credNone
	}
	if c.token.AccessToken != "" && (c.token.Expiry.IsZero() || c.token.Expiry.After(c.now().Add(expiryLeeway))) {
		return credValid
	}
	if c.token.RefreshToken != "" {
		return credExpiredRefreshable
	}
	return credExpiredNoRefresh
}

// ensureValid drives the state machine to Valid, refreshing once if needed.
func (c *youtubeCredentials) ensureValid(ctx context.Context) error {
	switch st := c.state(); st {
	case credValid:
		return nil
	case credNone:
		return fmt.Errorf("%w: youtube token", ErrMissingCredential)
	case credExpiredNoRefresh:
		return ErrReauthRequired
	case credExpiredRefreshable:
		expired := *c.token
		expired.AccessToken = ""
		tok, err := c.config.TokenSource(ctx, &expired).Token()
		if err != nil {
			return fmt.Errorf("refresh youtube token: %w", err)
		}
		if tok.RefreshToken == "" {
			tok.RefreshToken = c.token.RefreshToken
		}
		c.token = tok
		return c.saveToken()
	default:
		return fmt.Errorf("unexpected credential state %s", st)
	}
}

// httpClient returns a client that authorizes requests with the current token.
// The token is written to the scratch file for the rest of the run.
func (c *youtubeCredentials) httpClient(ctx context.Context) (*http.Client, error) {
	if err := c.ensureValid(ctx); err != nil {
		return nil, err
	}
	if err := c.saveToken(); err != nil {
		return nil, fmt.Errorf("save scratch token: %w", err)
	}
	return c.config.Client(ctx, c.token), nil
}

// discardToken removes the scratch token file at the end of a run.
func (c *youtubeCredentials) discardToken(log *logging.Logger) {
	if c.tokenPath == "" {
		return
	}
	if err := os.Remove(c.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("youtube: remove scratch token: %v", err)
	}
}

// saveToken writes the token to the scratch file using the generate_token layout.
func (c *youtubeCredentials) saveToken() error {
	if c.tokenPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	data := tokenData{
		Token:        c.token.AccessToken,
		RefreshToken: c.token.RefreshToken,
		TokenType:    c.token.TokenType,
		Expiry:       c.token.Expiry,
		TokenURI:     c.config.Endpoint.TokenURL,
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.tokenPath, raw, 0o600)
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}

// YouTubeClient returns an HTTP client authorized for the configured channel,
// refreshing the token first when needed. The token stays in memory.
func YouTubeClient(ctx context.Context, cfg internal.YouTubeConfig) (*http.Client, error) {
	creds, err := loadYouTubeCredentials(cfg)
	if err != nil {
		return nil, err
	}
	creds.tokenPath = ""
	return creds.httpClient(ctx)
}
