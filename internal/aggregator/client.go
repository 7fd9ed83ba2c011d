package aggregator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/networth-sync/internal/logger"
	"github.com/dvloznov/networth-sync/internal/session"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Personal Capital web application.
	DefaultBaseURL = "https://home.personalcapital.com"

	apiClient   = "WEB"
	maxBodySize = 16 << 20

	// csrfKey stores the CSRF token alongside the cookies so a restored
	// session can issue requests without logging in again.
	csrfKey = "__csrf"

	authLevelRemembered = "USER_REMEMBERED"
)

var csrfPattern = regexp.MustCompile(`globals\.csrf='([a-zA-Z0-9-]+)'`)

// Options configures a PersonalCapitalClient.
type Options struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// PersonalCapitalClient is the concrete implementation of Client that talks
// to the Personal Capital web API over HTTPS.
type PersonalCapitalClient struct {
	baseURL *url.URL
	http    *http.Client
	jar     *cookiejar.Jar
	limiter *rate.Limiter
	timeout time.Duration
	csrf    string
}

// NewPersonalCapitalClient creates a client with an empty cookie jar.
func NewPersonalCapitalClient(opts Options) (*PersonalCapitalClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("NewPersonalCapitalClient: parsing base URL: %w", err)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("NewPersonalCapitalClient: creating cookie jar: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// copy so the caller's client keeps its own jar
	hc := *httpClient
	hc.Jar = jar

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &PersonalCapitalClient{
		baseURL: base,
		http:    &hc,
		jar:     jar,
		limiter: rate.NewLimiter(limit, 1),
		timeout: opts.RequestTimeout,
	}, nil
}

// Login identifies the user and, for a remembered device, submits the password.
func (c *PersonalCapitalClient) Login(ctx context.Context, email, password string) error {
	csrf, err := c.homePageCSRF(ctx)
	if err != nil {
		return fmt.Errorf("Login: %w", err)
	}
	c.csrf = csrf

	resp, err := c.post(ctx, "/login/identifyUser", url.Values{
		"username":        {email},
		"csrf":            {c.csrf},
		"apiClient":       {apiClient},
		"bindDevice":      {"false"},
		"skipLinkAccount": {"false"},
		"redirectTo":      {""},
		"skipFirstUse":    {""},
		"referrerId":      {""},
	})
	if err != nil {
		return fmt.Errorf("Login: identifying user: %w", err)
	}

	authLevel, ok := resp.String("$.spHeader.authLevel")
	if !ok {
		return fmt.Errorf("Login: %w", &RemoteError{
			Endpoint:   resp.Endpoint,
			StatusCode: resp.StatusCode,
			Message:    "response has no authLevel",
		})
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("auth_level", authLevel).Msg("Identified aggregator user")

	if authLevel != authLevelRemembered {
		return ErrTwoFactorRequired
	}

	return c.ReauthenticatePassword(ctx, password)
}

// TwoFactorChallenge requests delivery of a verification code.
func (c *PersonalCapitalClient) TwoFactorChallenge(ctx context.Context, mode TwoFactorMode) error {
	if mode != ModeSMS {
		return fmt.Errorf("TwoFactorChallenge: unsupported mode %q", mode)
	}
	_, err := c.post(ctx, "/credential/challengeSms", url.Values{
		"challengeReason": {"DEVICE_AUTH"},
		"challengeMethod": {"OP"},
		"challengeType":   {"challengeSMS"},
		"apiClient":       {apiClient},
		"bindDevice":      {"false"},
		"csrf":            {c.csrf},
	})
	if err != nil {
		return fmt.Errorf("TwoFactorChallenge: %w", err)
	}
	return nil
}

// TwoFactorVerify submits the verification code.
func (c *PersonalCapitalClient) TwoFactorVerify(ctx context.Context, mode TwoFactorMode, code string) error {
	if mode != ModeSMS {
		return fmt.Errorf("TwoFactorVerify: unsupported mode %q", mode)
	}
	_, err := c.post(ctx, "/credential/authenticateSms", url.Values{
		"challengeReason": {"DEVICE_AUTH"},
		"challengeMethod": {"OP"},
		"apiClient":       {apiClient},
		"bindDevice":      {"false"},
		"code":            {code},
		"csrf":            {c.csrf},
	})
	if err != nil {
		return fmt.Errorf("TwoFactorVerify: %w", err)
	}
	return nil
}

// ReauthenticatePassword submits the password and binds the device so later
// logins skip the challenge.
func (c *PersonalCapitalClient) ReauthenticatePassword(ctx context.Context, password string) error {
	_, err := c.post(ctx, "/credential/authenticatePassword", url.Values{
		"bindDevice":      {"true"},
		"deviceName":      {""},
		"redirectTo":      {""},
		"skipFirstUse":    {""},
		"skipLinkAccount": {"false"},
		"referrerId":      {""},
		"passwd":          {password},
		"apiClient":       {apiClient},
		"csrf":            {c.csrf},
	})
	if err != nil {
		return fmt.Errorf("ReauthenticatePassword: %w", err)
	}
	return nil
}

// Fetch posts params to an /api endpoint such as "/newaccount/getAccounts".
func (c *PersonalCapitalClient) Fetch(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	form := url.Values{
		"lastServerChangeId": {"-1"},
		"csrf":               {c.csrf},
		"apiClient":          {apiClient},
	}
	for k, v := range params {
		form[k] = v
	}
	return c.post(ctx, endpoint, form)
}

// Session returns the cookies for the base URL plus the CSRF token.
func (c *PersonalCapitalClient) Session() session.Session {
	s := session.Session{}
	for _, ck := range c.jar.Cookies(c.baseURL) {
		s[ck.Name] = ck.Value
	}
	if c.csrf != "" {
		s[csrfKey] = c.csrf
	}
	return s
}

// SetSession installs the cookies and CSRF token from s.
func (c *PersonalCapitalClient) SetSession(s session.Session) {
	cookies := make([]*http.Cookie, 0, len(s))
	for name, value := range s {
		if name == csrfKey {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.jar.SetCookies(c.baseURL, cookies)
	c.csrf = s[csrfKey]
}

// homePageCSRF loads the landing page and extracts the initial CSRF token.
func (c *PersonalCapitalClient) homePageCSRF(ctx context.Context) (string, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.baseURL.String()+"/", nil)
	if err != nil {
		return "", &RemoteError{Endpoint: "/", StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return "", &RemoteError{Endpoint: "/", StatusCode: status}
	}
	m := csrfPattern.FindSubmatch(body)
	if m == nil {
		return "", &RemoteError{Endpoint: "/", StatusCode: status, Message: "csrf token not found"}
	}
	return string(m[1]), nil
}

// post sends a form to baseURL/api+endpoint and checks both the HTTP status
// and the spHeader envelope.
func (c *PersonalCapitalClient) post(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	body, status, err := c.do(ctx, http.MethodPost, c.baseURL.String()+"/api"+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &RemoteError{Endpoint: endpoint, StatusCode: status, Err: err}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &RemoteError{Endpoint: endpoint, StatusCode: status, Err: ErrUnauthorized}
	case status < 200 || status > 299:
		return nil, &RemoteError{Endpoint: endpoint, StatusCode: status}
	}

	resp, err := NewResponse(endpoint, status, body)
	if err != nil {
		return nil, err
	}
	if err := resp.headerError(); err != nil {
		return nil, err
	}
	if csrf, ok := resp.String("$.spHeader.csrf"); ok && csrf != "" {
		c.csrf = csrf
	}
	return resp, nil
}

// do performs one paced request under the per-request timeout.
func (c *PersonalCapitalClient) do(ctx context.Context, method, target string, body io.Reader) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		// a truncated body is a transport failure whatever the status line said
		return nil, 0, fmt.Errorf("reading body: %w", err)
	}
	return data, resp.StatusCode, nil
}
