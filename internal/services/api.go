package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNoToken  = errors.New("no token in login response")
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxPages           = 500
	errorBodyLimit     = 2048
)

// APIError is a non-2xx answer from the remote API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Media is a downloaded job payload.
type Media struct {
	Data        []byte
	ContentType string
}

// Client talks to the remote print API. The base URL and token are read
// from the config store on every request.
type Client struct {
	store     *state.ConfigStore
	http      *http.Client
	logger    *slog.Logger
	userAgent string
	login     singleflight.Group
	now       func() time.Time
}

func NewClient(store *state.ConfigStore, httpClient *http.Client, logger *slog.Logger, version string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		store:     store,
		http:      httpClient,
		logger:    logger.With("component", "api"),
		userAgent: "printer-bridge/" + version,
		now:       time.Now,
	}
}

// --- Printers ---

func (c *Client) ListPrinters(ctx context.Context, instance string) ([]model.RemotePrinter, error) {
	q := url.Values{}
	q.Set("filter[is_active]", "true")
	q.Set("filter[spooler_name]", instance)
	return listAll[model.RemotePrinter](ctx, c, "/printers", q)
}

// CreatePrinter registers p and returns the id the API assigned.
func (c *Client) CreatePrinter(ctx context.Context, p model.RemotePrinter) (int64, error) {
	p.ID = nil
	var created struct {
		ID *int64 `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/printers", nil, p, &created); err != nil {
		return 0, err
	}
	if created.ID == nil {
		return 0, fmt.Errorf("create printer %s: response carries no id", p.SystemName)
	}
	return *created.ID, nil
}

func (c *Client) UpdatePrinter(ctx context.Context, p model.RemotePrinter) error {
	if p.ID == nil {
		return fmt.Errorf("update printer %s: missing id", p.SystemName)
	}
	return c.doJSON(ctx, http.MethodPut, "/printers", nil, p, nil)
}

func (c *Client) DeletePrinter(ctx context.Context, id int64, instance string) error {
	q := url.Values{}
	q.Set("spooler_name", instance)
	return c.doJSON(ctx, http.MethodDelete, "/printers/"+strconv.FormatInt(id, 10), q, nil, nil)
}

// --- Print jobs ---

// FetchPendingJobs returns every page of not-yet-completed jobs for instance.
func (c *Client) FetchPendingJobs(ctx context.Context, instance string) ([]model.PrintJob, error) {
	q := url.Values{}
	q.Set("filter[is_completed]", "false")
	// spooler_name belongs to the printer relation, not the job.
	q.Set("filter[printer.spooler_name]", instance)
	q.Set("include", "printer")
	return listAll[model.PrintJob](ctx, c, "/print-jobs", q)
}

func (c *Client) FetchJob(ctx context.Context, id int64) (model.PrintJob, error) {
	q := url.Values{}
	q.Set("include", "printer")
	var job model.PrintJob
	err := c.doJSON(ctx, http.MethodGet, "/print-jobs/"+strconv.FormatInt(id, 10), q, nil, &job)
	return job, err
}

func (c *Client) UpdateJobStatus(ctx context.Context, update model.JobStatusUpdate) error {
	return c.doJSON(ctx, http.MethodPut, "/print-jobs", nil, update, nil)
}

func (c *Client) DownloadMedia(ctx context.Context, mediaID string) (Media, error) {
	if mediaID == "" {
		return Media{}, errors.New("job has no media id")
	}
	resp, err := c.do(ctx, http.MethodGet, "/media/private/"+url.PathEscape(mediaID), nil, nil, "application/octet-stream")
	if err != nil {
		return Media{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Media{}, fmt.Errorf("read media %s: %w", mediaID, err)
	}
	return Media{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// AuthorizeChannel asks the broadcasting auth endpoint to sign a private
// channel subscription and returns the auth string.
func (c *Client) AuthorizeChannel(ctx context.Context, endpoint, socketID, channel string) (string, error) {
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)

	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.url(endpoint, nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(ctx, req, "application/json")
	if err := c.ensureToken(ctx); err == nil {
		req.Header.Set("Authorization", "Bearer "+c.store.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("channel auth: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return "", err
	}
	var out struct {
		Auth string `json:"auth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode channel auth: %w", err)
	}
	if out.Auth == "" {
		return "", errors.New("channel auth response carries no signature")
	}
	return out.Auth, nil
}

// --- Auth ---

// Login exchanges the configured credentials for a token and stores it.
// Concurrent callers share one request.
func (c *Client) Login(ctx context.Context) (string, error) {
	v, err, _ := c.login.Do("login", func() (any, error) {
		return c.doLogin(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) doLogin(ctx context.Context) (string, error) {
	cfg := c.store.Get()
	if cfg.APIUsername == "" || cfg.APIPassword == "" {
		return "", errors.New("login: api_username and api_password are not configured")
	}
	body, err := json.Marshal(map[string]string{
		"name":     cfg.APIUsername,
		"password": cfg.APIPassword,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/login", nil), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(ctx, req, "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return "", err
	}

	var out struct {
		Token string `json:"token"`
		Data  struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	token := out.Token
	if token == "" {
		token = out.Data.Token
	}
	if token == "" {
		return "", ErrNoToken
	}
	if c.store.SetToken(token) {
		c.logger.Info("api token refreshed")
	}
	return c.store.Token(), nil
}

// ensureToken logs in when there is no token or the current JWT expired.
func (c *Client) ensureToken(ctx context.Context) error {
	token := c.store.Token()
	if token != "" && !state.TokenExpired(token, c.now()) {
		return nil
	}
	if !c.canLogin() {
		if token == "" {
			return errors.New("no api token and no credentials configured")
		}
		return nil
	}
	_, err := c.Login(ctx)
	return err
}

func (c *Client) canLogin() bool {
	cfg := c.store.Get()
	return cfg.APIUsername != "" && cfg.APIPassword != ""
}

// --- Transport ---

func (c *Client) url(path string, query url.Values) string {
	base := strings.TrimRight(c.store.Get().APIURL, "/")
	u := base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) decorate(ctx context.Context, req *http.Request, accept string) {
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	id := model.RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	req.Header.Set("X-Request-Id", id)
}

// do sends an authorized request and returns the response for a 2xx
// answer. A 401 triggers one login and a single retry.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accept string) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	if err := c.ensureToken(ctx); err != nil {
		c.logger.Warn("token refresh failed", "error", err)
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.decorate(ctx, req, accept)
		if token := c.store.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && c.canLogin() {
			drain(resp)
			c.logger.Info("api answered 401, logging in again", "path", path)
			if _, err := c.Login(ctx); err != nil {
				return nil, fmt.Errorf("%s %s: re-login: %w", method, path, err)
			}
			continue
		}
		if err := checkStatus(req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// doJSON runs do and decodes the response into out, unwrapping a
// {"data": ...} envelope when present.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.do(ctx, method, path, query, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		drain(resp)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if err := decodeData(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeData(raw []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(raw, out)
}

type listPage[T any] struct {
	Items       []T
	CurrentPage int
	LastPage    int
}

// decodePage understands {data:{data:[...], current_page, last_page}},
// {data:[...]} and a bare array.
func decodePage[T any](raw []byte) (listPage[T], error) {
	var p listPage[T]
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		err := json.Unmarshal(raw, &p.Items)
		return p, err
	}

	var outer struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return p, err
	}
	data := bytes.TrimSpace(outer.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return p, nil
	}
	if data[0] == '[' {
		err := json.Unmarshal(data, &p.Items)
		return p, err
	}

	var inner struct {
		Data        []T `json:"data"`
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
	}
	if err := json.Unmarshal(data, &inner); err != nil {
		return p, err
	}
	p.Items = inner.Data
	p.CurrentPage = inner.CurrentPage
	p.LastPage = inner.LastPage
	return p, nil
}

func listAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var all []T
	for n := 1; n <= maxPages; n++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		if n > 1 {
			q.Set("page", strconv.Itoa(n))
		}

		resp, err := c.do(ctx, http.MethodGet, path, q, nil, "application/json")
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		p, err := decodePage[T](raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		all = append(all, p.Items...)
		if p.LastPage <= n || len(p.Items) == 0 {
			return all, nil
		}
	}
	return all, nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	resp.Body.Close()
	return &APIError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
