package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	apperrors "github.com/remoodle/one/internal/errors"
)

type msOnlineSession struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	Name       string `json:"name"` // email
	IsSignedIn bool   `json:"isSignedIn"`
}

type msOnlineConfig struct {
	URLLogin    string            `json:"urlLogin"`
	ArrSessions []msOnlineSession `json:"arrSessions"`
}

type pageConfig struct {
	WWWRoot string `json:"wwwroot"`
	UserID  int64  `json:"userId"`
	SessKey string `json:"sesskey"`
}

// Authenticate drives the federated-login redirect chain with the held
// identity-provider cookies. If more than one account is signed in and no
// selector was supplied it fails with a MULTI_SESSION error carrying the
// candidates. Success is a credential rotation: the caller must persist the
// returned triple.
func (c *Client) Authenticate(ctx context.Context, accountID string) (Credentials, error) {
	if len(c.authCookies) == 0 {
		return Credentials{}, apperrors.Auth("no auth cookies provided")
	}

	oidcURL := c.baseURL.JoinPath(oidcPath).String()

	postData, err := c.resolveLoginForm(ctx, oidcURL, accountID)
	if err != nil {
		return Credentials{}, err
	}

	form := url.Values{}
	for k, v := range postData {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oidcURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Credentials{}, apperrors.Transport("post login form", err)
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode >= 400 || location == "" {
		return Credentials{}, apperrors.Auth(
			fmt.Sprintf("unexpected response during cookie auth: HTTP %d", resp.StatusCode))
	}

	sessionCookie := ""
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "MoodleSession" {
			sessionCookie = cookie.Value
		}
	}
	if sessionCookie == "" {
		return Credentials{}, apperrors.Auth("MoodleSession cookie not found")
	}

	landingURL, err := resp.Request.URL.Parse(location)
	if err != nil {
		return Credentials{}, apperrors.Auth("invalid login redirect location")
	}

	cfg, err := c.fetchPageConfig(ctx, landingURL.String(), sessionCookie)
	if err != nil {
		return Credentials{}, err
	}
	if cfg.UserID == 0 {
		return Credentials{}, apperrors.Auth("authentication failed, userId is invalid")
	}

	c.userID = cfg.UserID
	c.sessionCookie = sessionCookie
	c.sessionKey = cfg.SessKey
	c.failed = false

	log.Info().Int64("moodleId", cfg.UserID).Msg("portal session rotated")

	return c.Credentials(), nil
}

// resolveLoginForm follows the portal's OIDC entry redirect to the identity
// provider and extracts the form data the portal expects back. The identity
// provider either redirects immediately (single signed-in session) or renders
// an account-picker page whose embedded config lists the sessions.
func (c *Client) resolveLoginForm(ctx context.Context, oidcURL, accountID string) (map[string]string, error) {
	resp, err := c.get(ctx, oidcURL, nil)
	if err != nil {
		return nil, apperrors.Transport("portal oidc entry", err)
	}
	resp.Body.Close()
	if !isRedirect(resp) {
		return nil, apperrors.Auth(fmt.Sprintf("expected redirect from %s, got %d", oidcURL, resp.StatusCode))
	}

	redirectURL, err := resp.Request.URL.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, apperrors.Auth("invalid oidc redirect location")
	}
	q := redirectURL.Query()
	q.Set("response_mode", "fragment")
	q.Set("prompt", "select_account")
	redirectURL.RawQuery = q.Encode()

	idpResp, err := c.getIdentityProvider(ctx, redirectURL)
	if err != nil {
		return nil, apperrors.Transport("identity provider request", err)
	}
	defer idpResp.Body.Close()

	if isRedirect(idpResp) {
		return parseFragmentData(idpResp.Header.Get("Location"))
	}

	doc, err := goquery.NewDocumentFromReader(idpResp.Body)
	if err != nil {
		return nil, apperrors.Auth("unreadable identity provider page")
	}

	cfg, err := parseMSOnlineConfig(doc)
	if err != nil {
		return nil, apperrors.Auth(err.Error())
	}

	var signedIn []msOnlineSession
	for _, s := range cfg.ArrSessions {
		if s.IsSignedIn && s.ID != "" {
			signedIn = append(signedIn, s)
		}
	}

	if len(signedIn) == 0 {
		return nil, apperrors.Auth("no sessions found on identity provider page")
	}

	if len(signedIn) > 1 && accountID == "" {
		accounts := make([]apperrors.MultiSessionAccount, len(signedIn))
		for i, s := range signedIn {
			accounts[i] = apperrors.MultiSessionAccount{ID: s.ID, Name: s.FullName, Email: s.Name}
		}
		return nil, apperrors.MultiSession(accounts)
	}

	selected := signedIn[0]
	if accountID != "" {
		found := false
		for _, s := range signedIn {
			if s.ID == accountID {
				selected = s
				found = true
				break
			}
		}
		if !found {
			return nil, apperrors.Auth("provided account id is invalid")
		}
	}

	loginURL, err := url.Parse(cfg.URLLogin)
	if err != nil {
		return nil, apperrors.Auth("invalid identity provider login url")
	}
	lq := loginURL.Query()
	lq.Set("sessionid", selected.ID)
	loginURL.RawQuery = lq.Encode()

	loginResp, err := c.getIdentityProvider(ctx, loginURL)
	if err != nil {
		return nil, apperrors.Transport("identity provider login", err)
	}
	loginResp.Body.Close()
	if !isRedirect(loginResp) {
		return nil, apperrors.Auth(
			fmt.Sprintf("expected redirect from %s, got %d", loginURL, loginResp.StatusCode))
	}

	return parseFragmentData(loginResp.Header.Get("Location"))
}

// getIdentityProvider requests an identity-provider URL with the harvested
// auth cookies, optionally rerouted through the fixed proxy host.
func (c *Client) getIdentityProvider(ctx context.Context, target *url.URL) (*http.Response, error) {
	headers := http.Header{}

	pairs := make([]string, len(c.authCookies))
	for i, cookie := range c.authCookies {
		pairs[i] = url.QueryEscape(cookie.Name) + "=" + url.QueryEscape(cookie.Value)
	}
	headers.Set("Cookie", strings.Join(pairs, "; "))

	requestURL := target
	if c.proxyURL != nil {
		proxied := *c.proxyURL
		proxied.Path = target.Path
		proxied.RawQuery = target.RawQuery
		requestURL = &proxied
		headers.Set("Host", target.Host)
	}

	return c.get(ctx, requestURL.String(), headers)
}

func (c *Client) get(ctx context.Context, target string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vals := range headers {
		if k == "Host" {
			req.Host = vals[0]
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	return c.http.Do(req)
}

func (c *Client) fetchPageConfig(ctx context.Context, target, sessionCookie string) (*pageConfig, error) {
	headers := http.Header{}
	headers.Set("Cookie", "MoodleSession="+url.QueryEscape(sessionCookie))

	resp, err := c.get(ctx, target, headers)
	if err != nil {
		return nil, apperrors.Transport("fetch portal page", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperrors.Auth("unreadable portal page")
	}

	return parsePageConfig(doc)
}

func isRedirect(resp *http.Response) bool {
	return resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != ""
}

// parseFragmentData extracts the form fields the identity provider hands back
// in the redirect fragment.
func parseFragmentData(location string) (map[string]string, error) {
	parts := strings.SplitN(location, "#", 2)
	if len(parts) != 2 {
		return nil, apperrors.Auth("identity provider redirect carries no fragment")
	}
	values, err := url.ParseQuery(parts[1])
	if err != nil {
		return nil, apperrors.Auth("unparsable identity provider fragment")
	}
	data := make(map[string]string, len(values))
	for k := range values {
		data[k] = values.Get(k)
	}
	return data, nil
}

// parseMSOnlineConfig pulls the $Config JSON blob out of the account-picker
// page's first script tag.
func parseMSOnlineConfig(doc *goquery.Document) (*msOnlineConfig, error) {
	script := doc.Find("script").First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("no script tag on identity provider page")
	}

	text := script.Text()
	if !strings.Contains(text, "$Config={") {
		return nil, fmt.Errorf("no $Config found in identity provider script")
	}

	text = strings.ReplaceAll(text, "//<![CDATA[", "")
	text = strings.ReplaceAll(text, "//]]>", "")
	text = strings.TrimSpace(strings.Replace(text, "$Config=", "", 1))
	text = strings.TrimSuffix(text, ";")

	var cfg msOnlineConfig
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("decode identity provider config: %w", err)
	}
	return &cfg, nil
}

// parsePageConfig extracts the portal's inline JS config (userId, sesskey)
// from a rendered page.
func parsePageConfig(doc *goquery.Document) (*pageConfig, error) {
	var text string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), `"wwwroot"`) {
			text = s.Text()
			return false
		}
		return true
	})
	if text == "" {
		return nil, apperrors.Auth(`no script tag with "wwwroot" found`)
	}

	start := strings.Index(text, `"wwwroot"`)
	if start < 1 {
		return nil, apperrors.Auth(`"wwwroot" not found in script text`)
	}
	start--

	end := strings.Index(text[start:], ";")
	if end < 0 {
		return nil, apperrors.Auth("could not find trailing semicolon")
	}

	var cfg pageConfig
	if err := json.Unmarshal([]byte(text[start:start+end]), &cfg); err != nil {
		return nil, apperrors.Auth("decode portal page config").WithCause(err)
	}
	return &cfg, nil
}
