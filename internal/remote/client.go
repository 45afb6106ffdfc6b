// Package remote talks to the trailpack API over HTTP. A Client is the auth
// provider, the snapshot source and the list writer for the client core.
package remote

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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailpack/trailpack/internal/inspiration"
	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/session"
)

const resolveTimeout = 10 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout must be zero
// for snapshot streams to stay open.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenStore persists credentials across runs.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is an API client bound to at most one signed-in user.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenStore
	logger *slog.Logger

	mu        sync.Mutex
	creds     Credentials
	resolved  bool
	listeners map[int]func(*session.Identity)
	nextID    int

	resolveOnce sync.Once
	wg          sync.WaitGroup
}

// New builds a client for the API at baseURL, restoring stored credentials
// that were issued by the same server.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	c := &Client{
		base:      base,
		http:      &http.Client{},
		tokens:    &MemoryTokens{},
		logger:    slog.Default(),
		listeners: make(map[int]func(*session.Identity)),
	}
	for _, opt := range opts {
		opt(c)
	}

	creds, err := c.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds.Token != "" && creds.Server == base.String() {
		c.creds = creds
	}
	return c, nil
}

// Identity returns the signed-in identity known locally, if any.
func (c *Client) Identity() *session.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds.Identity == nil {
		return nil
	}
	id := *c.creds.Identity
	return &id
}

// Close waits for background session resolution to finish.
func (c *Client) Close() error {
	c.wg.Wait()
	return nil
}

type sessionResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      session.Identity `json:"user"`
}

// CreateAccount registers and signs in.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (session.Identity, error) {
	var out sessionResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", map[string]string{"email": email, "password": password}, &out, nil)
	if err != nil {
		return session.Identity{}, authErr(err)
	}
	return c.signedIn(out)
}

// SetDisplayName updates the signed-in user's display name.
func (c *Client) SetDisplayName(ctx context.Context, id session.Identity, name string) (session.Identity, error) {
	if cur := c.Identity(); cur == nil || cur.ID != id.ID {
		return session.Identity{}, &session.ProviderError{Code: session.CodeUnauthenticated, Message: "not signed in as " + id.ID}
	}
	var out session.Identity
	if err := c.do(ctx, http.MethodPatch, "/api/auth/profile", map[string]string{"displayName": name}, &out, nil); err != nil {
		return session.Identity{}, authErr(err)
	}
	c.mu.Lock()
	c.creds.Identity = &out
	creds := c.creds
	c.mu.Unlock()
	c.persist(creds)
	c.emit()
	return out, nil
}

// Authenticate signs in with email and password.
func (c *Client) Authenticate(ctx context.Context, email, password string) (session.Identity, error) {
	var out sessionResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/signin", map[string]string{"email": email, "password": password}, &out, nil)
	if err != nil {
		return session.Identity{}, authErr(err)
	}
	return c.signedIn(out)
}

// EndSession revokes the token on the server and forgets it locally. Local
// credentials are dropped even when the server cannot be reached.
func (c *Client) EndSession(ctx context.Context) error {
	c.mu.Lock()
	hadToken := c.creds.Token != ""
	c.mu.Unlock()

	var err error
	if hadToken {
		err = c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			err = nil
		}
	}

	c.mu.Lock()
	c.creds = Credentials{}
	c.resolved = true
	c.mu.Unlock()
	if cerr := c.tokens.Clear(); cerr != nil {
		c.logger.Warn("clear credentials", slog.Any("error", cerr))
	}
	c.emit()
	return authErr(err)
}

// OnSessionChange reports the resolved session to fn, then every change. The
// first report follows a round trip that checks the stored token.
func (c *Client) OnSessionChange(fn func(*session.Identity)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	resolved := c.resolved
	c.mu.Unlock()

	if resolved {
		fn(c.Identity())
	} else {
		c.resolveOnce.Do(func() {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
				defer cancel()
				c.Resolve(ctx)
			}()
		})
	}

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Resolve checks the stored token against the server and reports the result
// to session listeners. A rejected token is forgotten; an unreachable server
// keeps the cached identity.
func (c *Client) Resolve(ctx context.Context) {
	c.mu.Lock()
	token := c.creds.Token
	c.mu.Unlock()

	if token != "" {
		var me session.Identity
		err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &me, nil)
		var apiErr *APIError
		switch {
		case err == nil:
			c.mu.Lock()
			c.creds.Identity = &me
			creds := c.creds
			c.mu.Unlock()
			c.persist(creds)
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
			c.logger.Info("stored session rejected by server")
			c.mu.Lock()
			c.creds = Credentials{}
			c.mu.Unlock()
			if err := c.tokens.Clear(); err != nil {
				c.logger.Warn("clear credentials", slog.Any("error", err))
			}
		default:
			c.logger.Warn("could not verify stored session", slog.Any("error", err))
		}
	}

	c.mu.Lock()
	c.resolved = true
	c.mu.Unlock()
	c.emit()
}

func (c *Client) signedIn(out sessionResponse) (session.Identity, error) {
	user := out.User
	creds := Credentials{Server: c.base.String(), Token: out.Token, ExpiresAt: out.ExpiresAt, Identity: &user}
	c.mu.Lock()
	c.creds = creds
	c.resolved = true
	c.mu.Unlock()
	c.persist(creds)
	c.emit()
	return user, nil
}

func (c *Client) persist(creds Credentials) {
	if err := c.tokens.Save(creds); err != nil {
		c.logger.Warn("save credentials", slog.Any("error", err))
	}
}

func (c *Client) emit() {
	c.mu.Lock()
	var id *session.Identity
	if c.creds.Identity != nil {
		cp := *c.creds.Identity
		id = &cp
	}
	fns := make([]func(*session.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

// Profile fetches another user's public profile.
func (c *Client) Profile(ctx context.Context, uid string) (session.Identity, error) {
	var out session.Identity
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(uid), nil, &out, nil); err != nil {
		return session.Identity{}, authErr(err)
	}
	return out, nil
}

// Inspiration fetches trip ideas matching query.
func (c *Client) Inspiration(ctx context.Context, query string) ([]inspiration.Entry, error) {
	path := "/api/inspiration"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var out []inspiration.Entry
	if err := c.do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Lists fetches the signed-in user's lists once.
func (c *Client) Lists(ctx context.Context) ([]lists.EquipmentList, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	var out []lists.EquipmentList
	if err := c.do(ctx, http.MethodGet, "/api/equipment-lists/"+url.PathEscape(owner), nil, &out, nil); err != nil {
		return nil, listErr(err)
	}
	return out, nil
}

// Create stores a new list. Each call carries a fresh Idempotency-Key so a
// transport-level retry of the same request cannot create a duplicate.
func (c *Client) Create(ctx context.Context, title string, items []string) (lists.EquipmentList, error) {
	owner, err := c.owner()
	if err != nil {
		return lists.EquipmentList{}, err
	}
	body := map[string]any{"userId": owner, "listTitle": title, "items": items}
	hdr := http.Header{"Idempotency-Key": []string{uuid.NewString()}}
	var out lists.EquipmentList
	if err := c.do(ctx, http.MethodPost, "/api/equipment-lists", body, &out, hdr); err != nil {
		return lists.EquipmentList{}, listErr(err)
	}
	return out, nil
}

// Rename replaces a list title.
func (c *Client) Rename(ctx context.Context, id, title string) (lists.EquipmentList, error) {
	return c.listWrite(ctx, http.MethodPatch, listPath(id), map[string]string{"listTitle": title})
}

// AppendItem adds an unchecked item.
func (c *Client) AppendItem(ctx context.Context, id, name string) (lists.EquipmentList, error) {
	return c.listWrite(ctx, http.MethodPost, listPath(id)+"/items", map[string]string{"name": name})
}

// SetItemChecked sets the checked flag of the item at index.
func (c *Client) SetItemChecked(ctx context.Context, id string, index int, checked bool) (lists.EquipmentList, error) {
	return c.listWrite(ctx, http.MethodPatch, listPath(id)+"/items/"+strconv.Itoa(index), map[string]bool{"checked": checked})
}

// ReplaceItems swaps the item sequence if the list is still at expectVersion.
func (c *Client) ReplaceItems(ctx context.Context, id string, items []lists.EquipmentItem, expectVersion int64) (lists.EquipmentList, error) {
	return c.listWrite(ctx, http.MethodPut, listPath(id)+"/items", map[string]any{"items": items, "version": expectVersion})
}

// Delete removes a list.
func (c *Client) Delete(ctx context.Context, id string) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	return listErr(c.do(ctx, http.MethodDelete, listPath(id), nil, nil, nil))
}

func (c *Client) listWrite(ctx context.Context, method, path string, body any) (lists.EquipmentList, error) {
	if _, err := c.owner(); err != nil {
		return lists.EquipmentList{}, err
	}
	var out lists.EquipmentList
	if err := c.do(ctx, method, path, body, &out, nil); err != nil {
		return lists.EquipmentList{}, listErr(err)
	}
	return out, nil
}

func (c *Client) owner() (string, error) {
	id := c.Identity()
	if id == nil {
		return "", fmt.Errorf("%w: not signed in", lists.ErrPermissionDenied)
	}
	return id.ID, nil
}

func listPath(id string) string {
	return "/api/equipment-lists/" + url.PathEscape(id)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	token := c.creds.Token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends one request. Non-2xx responses come back as *APIError; anything
// else is a transport failure.
func (c *Client) do(ctx context.Context, method, path string, body, out any, hdr http.Header) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	} else {
		apiErr.Code = "http/" + strconv.Itoa(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
