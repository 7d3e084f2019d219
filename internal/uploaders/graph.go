package uploaders

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultGraphBaseURL = "https://graph.facebook.com"

// graphClient is a thin client for the Facebook Graph API shared by the
// Instagram and Facebook Page uploaders.
type graphClient struct {
	baseURL string
	version string
	token   string
	http    *http.Client
}

func newGraphClient(baseURL, version, token string, timeout time.Duration) *graphClient {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &graphClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: strings.Trim(version, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (g *graphClient) endpoint(path string) string {
	if g.version == "" {
		return g.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	return g.baseURL + "/" + g.version + "/" + strings.TrimLeft(path, "/")
}

func (g *graphClient) post(ctx context.Context, path string, form url.Values) (gjson.Result, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("access_token", g.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return g.do(req)
}

func (g *graphClient) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", g.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint(path)+"?"+query.Encode(), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	return g.do(req)
}

func (g *graphClient) do(req *http.Request) (gjson.Result, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()
	return readGraphResponse(resp)
}

// readGraphResponse returns the parsed body or an error carrying the Graph
// error message when the status or the body signals a failure.
func readGraphResponse(resp *http.Response) (gjson.Result, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read graph response: %w", err)
	}
	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return parsed, fmt.Errorf("graph error (status %d): %s", resp.StatusCode, msg.String())
	}
	if resp.StatusCode >= 300 {
		text := string(body)
		if len(text) > 200 {
			text = text[:200]
		}
		return parsed, fmt.Errorf("graph status %d: %s", resp.StatusCode, text)
	}
	return parsed, nil
}
