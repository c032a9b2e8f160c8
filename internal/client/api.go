// Package client drives rooms from the participant side: a typed Registry
// client, a WebSocket connector to the signal hub, the per-room session
// handle and the presence reconciler.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const HeaderUserID = "X-User-ID"

type Config struct {
	// BaseURL of the server, e.g. "http://localhost:8080".
	BaseURL string
	// User is sent as X-User-ID on every request.
	User domain.UserID
	// HTTPClient is used for all requests. If nil, a client with a 15s
	// timeout is used.
	HTTPClient *http.Client
	// Dialer opens WebSockets. If nil, websocket.DefaultDialer is used.
	Dialer *websocket.Dialer
}

// API is a typed client for the room endpoints.
type API struct {
	baseURL string
	user    domain.UserID
	http    *http.Client
	dialer  *websocket.Dialer
}

func NewAPI(cfg Config) (*API, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base url %q: %w", cfg.BaseURL, err)
	}
	user, err := domain.ParseUserID(string(cfg.User))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &API{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		user:    user,
		http:    hc,
		dialer:  dialer,
	}, nil
}

func (a *API) User() domain.UserID { return a.user }

// RoomRequest is the body of POST /rooms/create.
type RoomRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	TechStack       []string `json:"techStack"`
	SkillLevel      string   `json:"skillLevel,omitempty"`
	GithubLink      string   `json:"githubLink,omitempty"`
	MaxParticipants int      `json:"maxParticipants"`
}

type envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type roomResponse struct {
	Room domain.Room `json:"room"`
}

// doRequest sends in as JSON and decodes a 2xx body into out. Error
// envelopes come back as the matching domain error; anything that never
// reached a verdict is ErrTransport.
func (a *API) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	req.Header.Set(HeaderUserID, string(a.user))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrTransport, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if json.Unmarshal(raw, &env) != nil || env.Code == "" {
			return fmt.Errorf("%w: %s %s: HTTP %d", domain.ErrTransport, method, path, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", domain.FromCode(env.Code), env.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrTransport, path, err)
	}
	return nil
}

func (a *API) roomCall(ctx context.Context, method, path string, in any) (domain.Room, error) {
	var out roomResponse
	if err := a.doRequest(ctx, method, path, in, &out); err != nil {
		return domain.Room{}, err
	}
	return out.Room, nil
}

func roomPath(id domain.RoomID) string {
	return url.PathEscape(string(id))
}

func (a *API) Create(ctx context.Context, req RoomRequest) (domain.Room, error) {
	return a.roomCall(ctx, http.MethodPost, "/rooms/create", req)
}

// List returns rooms matching q (title or tag) and carrying any of tags.
func (a *API) List(ctx context.Context, f domain.Filter) ([]domain.Room, error) {
	v := url.Values{}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	for _, t := range f.Tags {
		v.Add("tag", t)
	}
	if f.Active {
		v.Set("active", "true")
	}
	path := "/rooms/all"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out struct {
		Rooms []domain.Room `json:"rooms"`
	}
	if err := a.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (a *API) Get(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return a.roomCall(ctx, http.MethodGet, "/rooms/"+roomPath(id), nil)
}

func (a *API) Join(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return a.roomCall(ctx, http.MethodPost, "/rooms/join/"+roomPath(id), nil)
}

func (a *API) JoinRandom(ctx context.Context) (domain.Room, error) {
	return a.roomCall(ctx, http.MethodPost, "/rooms/join/random", nil)
}

func (a *API) Leave(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return a.roomCall(ctx, http.MethodPost, "/rooms/leave/"+roomPath(id), nil)
}

func (a *API) Bind(ctx context.Context, id domain.RoomID) (domain.SessionHandle, error) {
	var out struct {
		SessionHandle domain.SessionHandle `json:"sessionHandle"`
	}
	if err := a.doRequest(ctx, http.MethodPost, "/rooms/"+roomPath(id)+"/session", nil, &out); err != nil {
		return "", err
	}
	return out.SessionHandle, nil
}

// Token fetches a signal hub token for the caller's membership in id.
func (a *API) Token(ctx context.Context, id domain.RoomID) (core.SessionToken, error) {
	var out core.SessionToken
	err := a.doRequest(ctx, http.MethodPost, "/rooms/token", map[string]string{"roomId": string(id)}, &out)
	return out, err
}

// Terminate closes id and reports whether its RTC session was ended.
func (a *API) Terminate(ctx context.Context, id domain.RoomID) (domain.Room, bool, error) {
	var out struct {
		Room         domain.Room `json:"room"`
		SessionEnded bool        `json:"sessionEnded"`
	}
	if err := a.doRequest(ctx, http.MethodPost, "/rooms/"+roomPath(id)+"/terminate", nil, &out); err != nil {
		return domain.Room{}, false, err
	}
	return out.Room, out.SessionEnded, nil
}

func (a *API) SetStatus(ctx context.Context, id domain.RoomID, to domain.Status) (domain.Room, error) {
	return a.roomCall(ctx, http.MethodPatch, "/rooms/"+roomPath(id)+"/status", map[string]string{"status": string(to)})
}

func (a *API) wsURL(path string) string {
	switch {
	case strings.HasPrefix(a.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(a.baseURL, "https://") + path
	case strings.HasPrefix(a.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(a.baseURL, "http://") + path
	}
	return a.baseURL + path
}

// dial opens a WebSocket and maps handshake rejections onto domain errors.
func (a *API) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(HeaderUserID, string(a.user))
	ws, resp, err := a.dialer.DialContext(ctx, a.wsURL(path), header)
	if err == nil {
		return ws, nil
	}
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		defer func() { _ = resp.Body.Close() }()
		var env envelope
		if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Code != "" {
			return nil, fmt.Errorf("%w: %s", domain.FromCode(env.Code), env.Message)
		}
		return nil, fmt.Errorf("%w: dial %s: HTTP %d", domain.ErrTransport, path, resp.StatusCode)
	}
	return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrTransport, path, err)
}

// Watch streams snapshots of id, starting with the current one. The
// channel closes when ctx ends or the stream drops; a slow reader loses
// older snapshots, never the latest.
func (a *API) Watch(ctx context.Context, id domain.RoomID) (<-chan domain.Room, error) {
	ws, err := a.dial(ctx, "/rooms/"+roomPath(id)+"/events")
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Room, 8)
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	go func() {
		defer func() {
			stop()
			_ = ws.Close()
			close(out)
		}()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("module", "client.api").Str("room", string(id)).Msg("watch closed")
				}
				return
			}
			var r domain.Room
			if err := json.Unmarshal(data, &r); err != nil {
				log.Warn().Err(err).Str("module", "client.api").Msg("bad room snapshot")
				continue
			}
			app.Offer(out, r)
		}
	}()
	return out, nil
}
