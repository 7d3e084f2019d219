package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"video-autopost/internal"
	"video-autopost/internal/logging"
)

// ErrNoTunnel means no public URL could be obtained for the pending folder.
var ErrNoTunnel = errors.New("no public tunnel url")

// Helper exposes a local folder on a public URL: a static file server plus an
// ngrok tunnel pointing at it.
type Helper struct {
	cfg    internal.TunnelConfig
	root   string
	log    *logging.Logger
	client *http.Client
}

func New(cfg internal.TunnelConfig, root string, log *logging.Logger) *Helper {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.NgrokBin == "" {
		cfg.NgrokBin = "ngrok"
	}
	return &Helper{
		cfg:    cfg,
		root:   root,
		log:    log,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Exposure is a running file server and tunnel. Close releases both.
type Exposure struct {
	BaseURL string

	localURL string
	server   *http.Server
	cmd      *exec.Cmd
	log      *logging.Logger
	once     sync.Once
}

// URLFor returns the public URL of a file in the exposed folder.
func (e *Exposure) URLFor(name string) string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + url.PathEscape(name)
}

// LocalURL is the address of the file server on this host, empty when a
// fixed public base URL is used.
func (e *Exposure) LocalURL() string {
	return e.localURL
}

// Close stops the tunnel process and the file server. Failures are logged.
func (e *Exposure) Close() {
	e.once.Do(func() {
		if e.cmd != nil && e.cmd.Process != nil {
			if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				e.log.Warnf("tunnel: kill ngrok: %v", err)
			}
			_ = e.cmd.Wait()
		}
		if e.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.server.Shutdown(ctx); err != nil {
				e.log.Warnf("tunnel: shutdown file server: %v", err)
			}
		}
	})
}

// Start serves the folder and waits for a public URL. Anything started is
// torn down again when no URL shows up.
func (h *Helper) Start(ctx context.Context) (*Exposure, error) {
	if h.cfg.PublicBaseURL != "" {
		h.log.Infof("tunnel: using fixed public base url %s", h.cfg.PublicBaseURL)
		return &Exposure{BaseURL: strings.TrimRight(h.cfg.PublicBaseURL, "/"), log: h.log}, nil
	}

	exp, port, err := h.serve()
	if err != nil {
		return nil, fmt.Errorf("%w: file server: %v", ErrNoTunnel, err)
	}
	h.log.Infof("tunnel: serving %s on %s", h.root, exp.localURL)

	if h.cfg.NgrokStart {
		cmd := exec.Command(h.cfg.NgrokBin, "http", strconv.Itoa(port), "--log=stdout")
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if h.cfg.NgrokAuthToken != "" {
			cmd.Env = append(os.Environ(), "NGROK_AUTHTOKEN="+h.cfg.NgrokAuthToken)
		}
		if err := cmd.Start(); err != nil {
			exp.Close()
			return nil, fmt.Errorf("%w: start ngrok: %v", ErrNoTunnel, err)
		}
		exp.cmd = cmd
	}

	publicURL, err := h.waitPublicURL(ctx, port)
	if err != nil {
		exp.Close()
		return nil, err
	}
	exp.BaseURL = strings.TrimRight(publicURL, "/")
	h.log.Infof("tunnel: public url %s", exp.BaseURL)
	return exp, nil
}

func (h *Helper) serve() (*Exposure, int, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Static("/", h.root)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.cfg.ServerPort))
	if err != nil {
		return nil, 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Errorf("tunnel: file server stopped: %v", err)
		}
	}()

	return &Exposure{
		localURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		server:   srv,
		log:      h.log,
	}, port, nil
}

// waitPublicURL polls the ngrok status API until a tunnel is listed.
func (h *Helper) waitPublicURL(ctx context.Context, port int) (string, error) {
	var publicURL string
	r := retrier.New(retrier.ConstantBackoff(h.cfg.Attempts-1, h.cfg.Interval), nil)
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.NgrokAPIURL, nil)
		if err != nil {
			return err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		publicURL = ParsePublicURL(body, port)
		if publicURL == "" {
			return errors.New("no tunnel listed yet")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w after %d attempts: %v", ErrNoTunnel, h.cfg.Attempts, err)
	}
	return publicURL, nil
}

// ParsePublicURL picks the tunnel URL from an ngrok /api/tunnels response,
// preferring https tunnels that forward to port.
func ParsePublicURL(body []byte, port int) string {
	tunnels := gjson.GetBytes(body, "tunnels").Array()
	suffix := ":" + strconv.Itoa(port)

	var best string
	for _, t := range tunnels {
		u := t.Get("public_url").String()
		if u == "" {
			continue
		}
		https := strings.HasPrefix(u, "https://")
		matches := port == 0 || strings.HasSuffix(t.Get("config.addr").String(), suffix)
		switch {
		case https && matches:
			return u
		case best == "" || (https && !strings.HasPrefix(best, "https://")):
			best = u
		}
	}
	return best
}
