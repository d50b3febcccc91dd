// Package moodle is the authenticated portal client. It hides the remote
// authentication handshake and transport behind a login operation, a generic
// remote-procedure call, and two HTML-scraping read paths.
package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/rs/zerolog/log"

	apperrors "github.com/remoodle/one/internal/errors"
)

const (
	ajaxPath    = "/lib/ajax/service.php"
	oidcPath    = "/auth/oidc/"
	profilePath = "/user/profile.php"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0"
)

// CredentialStore persists a rotated session triple. The store is the single
// source of truth; the in-memory copy held by a live client is transient.
type CredentialStore interface {
	SaveCredentials(ctx context.Context, moodleUserID int64, sessionCookie, sessionKey string) error
}

// Client owns one user's portal session. Instances are not safe for
// concurrent use; build one per sync operation.
//
// State machine: Unauthenticated -> Authenticated (Authenticate succeeds) ->
// SessionStale (remote reports requires-login) -> Authenticated (reauth
// succeeds) or Failed (reauth fails). A Failed client stays failed; callers
// must discard it and rebuild from stored credentials.
type Client struct {
	baseURL  *url.URL
	proxyURL *url.URL
	http     *http.Client

	userID        int64
	authCookies   []AuthCookie
	sessionCookie string
	sessionKey    string
	accountID     string

	store  CredentialStore
	failed bool
}

type Option func(*Client)

// WithAuthCookies supplies the harvested identity-provider cookies used for
// the federated login handshake.
func WithAuthCookies(cookies []AuthCookie) Option {
	return func(c *Client) { c.authCookies = cookies }
}

// WithSession seeds the client with stored session credentials, skipping the
// login handshake until the portal reports the session stale.
func WithSession(userID int64, sessionCookie, sessionKey string) Option {
	return func(c *Client) {
		c.userID = userID
		c.sessionCookie = sessionCookie
		c.sessionKey = sessionKey
	}
}

// WithAccountID pre-selects the identity-provider account when the student
// is signed in to more than one.
func WithAccountID(id string) Option {
	return func(c *Client) { c.accountID = id }
}

// WithCredentialStore wires write-back of rotated credentials.
func WithCredentialStore(store CredentialStore) Option {
	return func(c *Client) { c.store = store }
}

// WithHTTPClient overrides the transport, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMSOnlineProxy routes identity-provider requests through a fixed proxy
// host, keeping the original Host header.
func WithMSOnlineProxy(rawURL string) Option {
	return func(c *Client) {
		if rawURL == "" {
			return
		}
		if u, err := url.Parse(rawURL); err == nil {
			c.proxyURL = u
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal url: %w", err)
	}

	c := &Client{baseURL: u}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		jar, _ := cookiejar.New(nil)
		c.http = &http.Client{
			Jar: jar,
			// Redirects are followed by hand: the login chain reads
			// Location fragments that automatic following would drop.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return c, nil
}

// UserID returns the remote portal identity, zero until authenticated.
func (c *Client) UserID() int64 { return c.userID }

// Credentials returns the current session triple.
func (c *Client) Credentials() Credentials {
	return Credentials{
		UserID:        c.userID,
		SessionCookie: c.sessionCookie,
		SessionKey:    c.sessionKey,
	}
}

type ajaxRequest struct {
	Index      int    `json:"index"`
	MethodName string `json:"methodname"`
	Args       any    `json:"args"`
}

type ajaxResponse struct {
	Error     bool            `json:"error"`
	Message   string          `json:"message"`
	Exception *ajaxException  `json:"exception"`
	Data      json.RawMessage `json:"data"`
}

type ajaxException struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
}

// Call invokes one remote procedure. Domain errors come back as a
// *RemoteError value so callers can branch without unwinding; the error
// return carries transport failures and terminal auth failures only.
//
// A "requires login" error triggers exactly one reauthentication using the
// held auth cookies. On reauth success the rotated credentials are persisted
// and the call retried once; on reauth failure the surfaced error is the
// reauth failure, not the original, and the client is poisoned.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, *RemoteError, error) {
	if c.failed {
		return nil, nil, apperrors.Auth("portal client failed, rebuild with fresh credentials")
	}
	if c.sessionCookie == "" || c.sessionKey == "" {
		return nil, nil, apperrors.Auth("no session available, please authenticate first")
	}

	// Explicit two-attempt loop: at most one reauth, never recursion.
	for attempt := 0; ; attempt++ {
		data, rerr, err := c.invoke(ctx, method, params)
		if err != nil {
			return nil, nil, err
		}
		if rerr == nil {
			return data, nil, nil
		}
		if rerr.Code != codeRequiresLogin || attempt > 0 {
			return nil, rerr, nil
		}

		log.Debug().Str("method", method).Msg("portal session stale, reauthenticating")

		creds, authErr := c.Authenticate(ctx, c.accountID)
		if authErr != nil {
			c.failed = true
			if apperrors.HasCode(authErr, apperrors.ErrCodeMultiSession) {
				return nil, nil, authErr
			}
			return nil, nil, apperrors.Auth(authErr.Error()).WithCause(authErr)
		}

		if c.store != nil {
			if saveErr := c.store.SaveCredentials(ctx, creds.UserID, creds.SessionCookie, creds.SessionKey); saveErr != nil {
				log.Error().Err(saveErr).Int64("moodleId", creds.UserID).
					Msg("failed to persist rotated session credentials")
			}
		}
	}
}

func (c *Client) invoke(ctx context.Context, method string, params any) (json.RawMessage, *RemoteError, error) {
	endpoint := c.baseURL.JoinPath(ajaxPath)
	q := endpoint.Query()
	q.Set("sesskey", c.sessionKey)
	endpoint.RawQuery = q.Encode()

	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal([]ajaxRequest{{Index: 0, MethodName: method, Args: params}})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal call body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "MoodleSession="+c.sessionCookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, apperrors.Transport(fmt.Sprintf("portal call %s failed", method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, apperrors.Transport(
			fmt.Sprintf("portal call %s: HTTP %d", method, resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apperrors.Transport("read portal response", err)
	}

	var batch []ajaxResponse
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, nil, apperrors.Transport("decode portal response", err)
	}
	if len(batch) == 0 {
		return nil, nil, apperrors.Transport("empty portal response batch", nil)
	}

	first := batch[0]
	if first.Exception != nil {
		message := first.Exception.Message
		if message == "" {
			message = first.Message
		}
		return nil, &RemoteError{Message: message, Code: first.Exception.ErrorCode}, nil
	}

	return first.Data, nil, nil
}
