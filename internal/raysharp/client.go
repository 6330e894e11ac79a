package raysharp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const apiVersion = "1.0"

// Subscription holds the opaque long-poll tokens handed out by the device's
// Event Check endpoint. All three nil means "create a new subscription".
// lap_number in particular is undocumented; it is echoed back verbatim and
// never interpreted.
type Subscription struct {
	ReaderID  any
	Sequence  any
	LapNumber any
}

// Active reports whether the device has handed us any subscription token yet.
func (s *Subscription) Active() bool {
	return s.ReaderID != nil || s.Sequence != nil || s.LapNumber != nil
}

// Reset drops all tokens, forcing a fresh subscription on the next poll.
func (s *Subscription) Reset() {
	s.ReaderID = nil
	s.Sequence = nil
	s.LapNumber = nil
}

// Client talks to one RaySharp NVR. Login is HTTP Digest; subsequent calls
// authorize via the session cookie plus a CSRF token echoed on each response.
//
// All auth state (challenge, nonce count, cookie, csrf) is mutated under mu,
// and at most one login is in flight at a time.
type Client struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client

	mu            sync.Mutex
	csrfToken     string
	sessionCookie string
	authenticated bool
	nc            int
	challenge     map[string]string
}

func NewClient(host string, port int, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  fmt.Sprintf("http://%s:%d", host, port),
		username: username,
		password: password,
		httpc:    &http.Client{Timeout: timeout},
	}
}

// Authenticated reports whether the last login succeeded and no call has
// invalidated the session since.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

type envelope struct {
	Version string `json:"version"`
	Data    any    `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, path string, data any) (*http.Request, error) {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(envelope{Version: apiVersion, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) authHeaders(req *http.Request) {
	c.mu.Lock()
	csrf, cookie := c.csrfToken, c.sessionCookie
	c.mu.Unlock()
	if csrf != "" {
		req.Header.Set("X-csrftoken", csrf)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

// updateCSRF captures a rotated CSRF token from any response that carries one.
func (c *Client) updateCSRF(resp *http.Response) {
	csrf := resp.Header.Get("X-csrftoken")
	if csrf == "" {
		csrf = resp.Header.Get("X-CsrfToken")
	}
	if csrf != "" {
		c.mu.Lock()
		c.csrfToken = csrf
		c.mu.Unlock()
	}
}

func decodeBody(resp *http.Response, path string) (map[string]any, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connErrorf(err, "read response from %s", path)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, connErrorf(err, "decode response from %s", path)
	}
	return out, nil
}

// Login performs the two-step digest handshake:
//  1. POST without credentials, expect 401 + WWW-Authenticate: Digest.
//  2. POST again with the computed Authorization header.
//
// On success the session cookie and CSRF token are captured for reuse.
func (c *Client) Login(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) (map[string]any, error) {
	req, err := c.newRequest(ctx, EndpointLogin, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, connErrorf(err, "connection to NVR failed")
	}

	if resp.StatusCode == http.StatusOK {
		// Already authenticated (e.g. session still valid on the device).
		return c.handleLoginSuccess(resp)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		resp.Body.Close()
		return nil, connErrorf(nil, "expected 401 challenge, got %d", resp.StatusCode)
	}

	wwwAuth := resp.Header.Get("WWW-Authenticate")
	resp.Body.Close()
	if !strings.HasPrefix(strings.ToLower(wwwAuth), "digest") {
		return nil, authErrorf("server does not support digest authentication")
	}
	c.challenge = parseDigestChallenge(wwwAuth)

	c.nc++
	authHeader := buildDigestHeader(c.username, c.password, http.MethodPost, EndpointLogin, c.challenge, c.nc, randomCnonce())

	req, err = c.newRequest(ctx, EndpointLogin, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authHeader)

	resp, err = c.httpc.Do(req)
	if err != nil {
		return nil, connErrorf(err, "connection to NVR failed")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		c.authenticated = false
		return nil, authErrorf("authentication failed: invalid credentials")
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, connErrorf(nil, "login failed with status %d", resp.StatusCode)
	}
	return c.handleLoginSuccess(resp)
}

func (c *Client) handleLoginSuccess(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()

	csrf := resp.Header.Get("X-csrftoken")
	if csrf == "" {
		csrf = resp.Header.Get("X-CsrfToken")
	}
	if csrf != "" {
		c.csrfToken = csrf
	}
	for _, cookie := range resp.Cookies() {
		if strings.HasPrefix(cookie.Name, "session") {
			c.sessionCookie = cookie.Name + "=" + cookie.Value
			break
		}
	}

	out, err := decodeBody(resp, EndpointLogin)
	if err != nil {
		return nil, err
	}
	c.authenticated = true
	log.Printf("[DEBUG] raysharp: logged in to %s", c.baseURL)
	return out, nil
}

// Call makes an authenticated API call. A 401 triggers exactly one re-login
// and one retry through rawCall, which itself surfaces a second 401 as an
// AuthError rather than recursing.
func (c *Client) Call(ctx context.Context, path string, data any) (map[string]any, error) {
	req, err := c.newRequest(ctx, path, data)
	if err != nil {
		return nil, err
	}
	c.authHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, connErrorf(err, "API call to %s failed", path)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		log.Printf("[DEBUG] raysharp: got 401 on %s, attempting re-login", path)
		if _, err := c.Login(ctx); err != nil {
			return nil, err
		}
		return c.rawCall(ctx, path, data)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, connErrorf(nil, "API call to %s failed with status %d", path, resp.StatusCode)
	}

	c.updateCSRF(resp)
	defer resp.Body.Close()
	return decodeBody(resp, path)
}

// rawCall is Call without the re-login retry, bounding recovery to a single
// re-auth attempt per failed call.
func (c *Client) rawCall(ctx context.Context, path string, data any) (map[string]any, error) {
	req, err := c.newRequest(ctx, path, data)
	if err != nil {
		return nil, err
	}
	c.authHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, connErrorf(err, "API call to %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.authenticated = false
		c.mu.Unlock()
		return nil, authErrorf("re-authentication failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, connErrorf(nil, "API call to %s failed with status %d", path, resp.StatusCode)
	}

	c.updateCSRF(resp)
	return decodeBody(resp, path)
}

// Heartbeat keeps the session warm. Failures are logged and swallowed; the
// next substantive call re-authenticates if needed.
func (c *Client) Heartbeat(ctx context.Context) bool {
	if _, err := c.Call(ctx, EndpointHeartbeat, nil); err != nil {
		log.Printf("[DEBUG] raysharp: heartbeat failed, session may have expired: %v", err)
		return false
	}
	return true
}

// EventCheck issues one long-poll round-trip carrying the current
// subscription tokens. Tokens that are nil are omitted so the device creates
// a fresh subscription.
func (c *Client) EventCheck(ctx context.Context, sub *Subscription) (map[string]any, error) {
	data := map[string]any{}
	if sub != nil {
		if sub.ReaderID != nil {
			data["reader_id"] = sub.ReaderID
		}
		if sub.Sequence != nil {
			data["sequence"] = sub.Sequence
		}
		if sub.LapNumber != nil {
			data["lap_number"] = sub.LapNumber
		}
	}
	return c.Call(ctx, EndpointEventCheck, data)
}

// Logout invalidates the device session. Best effort: failures are ignored,
// local auth state is cleared regardless.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	wasAuthed := c.authenticated
	c.mu.Unlock()
	if wasAuthed {
		if _, err := c.Call(ctx, EndpointLogout, nil); err != nil {
			log.Printf("[DEBUG] raysharp: logout request failed, ignoring: %v", err)
		}
	}
	c.mu.Lock()
	c.authenticated = false
	c.csrfToken = ""
	c.sessionCookie = ""
	c.challenge = nil
	c.mu.Unlock()
}

// Close logs out and releases idle connections.
func (c *Client) Close(ctx context.Context) {
	c.Logout(ctx)
	c.httpc.CloseIdleConnections()
}

// ExtractData unwraps the {"version":..., "data":...} response envelope.
// Responses without an envelope are returned as-is.
func ExtractData(resp map[string]any) map[string]any {
	if resp == nil {
		return nil
	}
	if data, ok := resp["data"].(map[string]any); ok {
		return data
	}
	return resp
}
