// Package api talks to the TaleForge REST backend under /api/stories.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type Options struct {
	BaseURL string        // "http://localhost:8080"
	Timeout time.Duration // per call
	// HTTPClient is optional; a cookie-carrying client is built when nil.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("api: bad base url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("api: cookie jar: %w", err)
		}
		hc = &http.Client{Jar: jar}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{base: base, http: hc, timeout: opts.Timeout, log: log.With(slog.String("component", "api"))}, nil
}

func (c *Client) CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.CreateRoomResponse, error) {
	var out types.CreateRoomResponse
	if err := c.do(ctx, http.MethodPost, "", req, &out); err != nil {
		return out, fmt.Errorf("create room: %w", err)
	}
	if out.RoomCode == "" || out.PlayerID == "" {
		return out, fmt.Errorf("create room: %w: missing roomCode or playerId", errs.ErrProtocol)
	}
	return out, nil
}

func (c *Client) JoinRoom(ctx context.Context, code string, req types.JoinRoomRequest) (types.JoinRoomResponse, error) {
	var out types.JoinRoomResponse
	if err := c.do(ctx, http.MethodPost, code+"/join", req, &out); err != nil {
		return out, fmt.Errorf("join room: %w", err)
	}
	if out.PlayerID == "" {
		return out, fmt.Errorf("join room: %w: missing playerId", errs.ErrProtocol)
	}
	return out, nil
}

func (c *Client) LeaveRoom(ctx context.Context, code string) error {
	return wrap("leave room", c.do(ctx, http.MethodPost, code+"/leave", nil, nil))
}

// GetRoom is a single snapshot request without retries. See Fetcher.
func (c *Client) GetRoom(ctx context.Context, code string) (types.Snapshot, error) {
	var out types.Snapshot
	if err := c.do(ctx, http.MethodGet, code, nil, &out); err != nil {
		return out, fmt.Errorf("get room: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateTitle(ctx context.Context, code string, req types.UpdateTitleRequest) error {
	return wrap("update title", c.do(ctx, http.MethodPut, code+"/title", req, nil))
}

func (c *Client) UpdateCharacter(ctx context.Context, code string, req types.UpdateCharacterRequest) error {
	return wrap("update character", c.do(ctx, http.MethodPut, code+"/character", req, nil))
}

func (c *Client) StartRoleAssignment(ctx context.Context, code string) error {
	return wrap("start role assignment", c.do(ctx, http.MethodPost, code+"/start-role-assignment", nil, nil))
}

func (c *Client) AssignRoles(ctx context.Context, code string) error {
	return wrap("assign roles", c.do(ctx, http.MethodPost, code+"/assign-roles", nil, nil))
}

func (c *Client) StartStorytelling(ctx context.Context, code string) error {
	return wrap("start storytelling", c.do(ctx, http.MethodPost, code+"/start-storytelling", nil, nil))
}

func (c *Client) CompleteStory(ctx context.Context, code string) error {
	return wrap("complete story", c.do(ctx, http.MethodPost, code+"/complete", nil, nil))
}

// DownloadStory fetches the backend-rendered story document.
func (c *Client) DownloadStory(ctx context.Context, code string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, http.MethodGet, code+"/download", nil, &buf); err != nil {
		return nil, fmt.Errorf("download story: %w", err)
	}
	return buf.Bytes(), nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// do sends one request. out may be nil, a *bytes.Buffer for raw bodies, or a
// JSON target.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base.JoinPath("api", "stories")
	if path != "" {
		u = u.JoinPath(strings.Split(path, "/")...)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", errs.ErrInvalidInput, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	c.log.Debug("backend call",
		slog.String("method", method),
		slog.String("path", u.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *bytes.Buffer:
		if _, err := dst.ReadFrom(resp.Body); err != nil {
			return fmt.Errorf("%w: read body: %v", errs.ErrNetwork, err)
		}
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s: %v", errs.ErrProtocol, u.Path, err)
		}
		return nil
	}
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload types.ErrorPayload
	_ = json.Unmarshal(raw, &payload)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		if payload.Error != "" {
			return fmt.Errorf("%w: %s", errs.ErrNotFound, payload.Error)
		}
		return errs.ErrNotFound
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout,
		resp.StatusCode >= 500 && payload.Error == "":
		return fmt.Errorf("%w: backend status %d", errs.ErrNetwork, resp.StatusCode)
	default:
		return &errs.ActionError{Status: resp.StatusCode, Message: payload.Error}
	}
}
