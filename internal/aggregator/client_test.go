package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/networth-sync/internal/session"
	"github.com/shopspring/decimal"
)

// fakeServer mimics the parts of the Personal Capital API the client uses.
type fakeServer struct {
	mu         sync.Mutex
	authLevel  string
	calls      []string
	forms      map[string]url.Values
	fetchReply func(w http.ResponseWriter, r *http.Request)
}

func newFakeServer(t *testing.T, authLevel string) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{authLevel: authLevel, forms: make(map[string]url.Values)}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		fmt.Fprint(w, `<html><script>globals.csrf='initial-csrf-1';</script></html>`)
	})
	mux.HandleFunc("/api/login/identifyUser", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		http.SetCookie(w, &http.Cookie{Name: "PMData", Value: "device-token", Path: "/"})
		fmt.Fprintf(w, `{"spHeader":{"success":true,"csrf":"identified-csrf","authLevel":%q}}`, fs.authLevel)
	})
	for _, p := range []string{"/api/credential/challengeSms", "/api/credential/authenticateSms"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			fs.record(r)
			fmt.Fprint(w, `{"spHeader":{"success":true}}`)
		})
	}
	mux.HandleFunc("/api/credential/authenticatePassword", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		if r.PostForm.Get("passwd") != "secret" {
			fmt.Fprint(w, `{"spHeader":{"success":false,"errors":[{"code":202,"message":"Incorrect password"}]}}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "session-token", Path: "/"})
		fmt.Fprint(w, `{"spHeader":{"success":true,"csrf":"session-csrf"}}`)
	})
	mux.HandleFunc("/api/newaccount/getAccounts", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		if fs.fetchReply != nil {
			fs.fetchReply(w, r)
			return
		}
		fmt.Fprint(w, `{"spHeader":{"success":true},"spData":{"networth":486483.22,"investmentAccountsTotal":394698.19}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) record(r *http.Request) {
	_ = r.ParseForm()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.calls = append(fs.calls, r.URL.Path)
	fs.forms[r.URL.Path] = r.PostForm
}

func (fs *fakeServer) form(path string) url.Values {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.forms[path]
}

func newTestClient(t *testing.T, srv *httptest.Server) *PersonalCapitalClient {
	t.Helper()
	c, err := NewPersonalCapitalClient(Options{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewPersonalCapitalClient() = %v", err)
	}
	return c
}

func TestLogin_RememberedDevice(t *testing.T) {
	fs, srv := newFakeServer(t, authLevelRemembered)
	c := newTestClient(t, srv)

	if err := c.Login(context.Background(), "me@example.com", "secret"); err != nil {
		t.Fatalf("Login() = %v", err)
	}

	if got := fs.form("/api/login/identifyUser").Get("csrf"); got != "initial-csrf-1" {
		t.Errorf("identifyUser csrf = %q, want token scraped from home page", got)
	}
	if got := fs.form("/api/credential/authenticatePassword").Get("csrf"); got != "identified-csrf" {
		t.Errorf("authenticatePassword csrf = %q, want rotated token", got)
	}

	s := c.Session()
	if s["SESSION"] != "session-token" || s["PMData"] != "device-token" {
		t.Errorf("Session() missing cookies: %v", s)
	}
	if s[csrfKey] != "session-csrf" {
		t.Errorf("Session() csrf = %q, want session-csrf", s[csrfKey])
	}
}

func TestLogin_TwoFactorRequired(t *testing.T) {
	fs, srv := newFakeServer(t, "USER_IDENTIFIED")
	c := newTestClient(t, srv)
	ctx := context.Background()

	err := c.Login(ctx, "me@example.com", "secret")
	if !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("Login() = %v, want ErrTwoFactorRequired", err)
	}

	if err := c.TwoFactorChallenge(ctx, ModeSMS); err != nil {
		t.Fatalf("TwoFactorChallenge() = %v", err)
	}
	if err := c.TwoFactorVerify(ctx, ModeSMS, "123456"); err != nil {
		t.Fatalf("TwoFactorVerify() = %v", err)
	}
	if err := c.ReauthenticatePassword(ctx, "secret"); err != nil {
		t.Fatalf("ReauthenticatePassword() = %v", err)
	}

	if got := fs.form("/api/credential/challengeSms").Get("challengeType"); got != "challengeSMS" {
		t.Errorf("challengeType = %q, want challengeSMS", got)
	}
	if got := fs.form("/api/credential/authenticateSms").Get("code"); got != "123456" {
		t.Errorf("code = %q, want 123456", got)
	}
}

func TestReauthenticatePassword_Rejected(t *testing.T) {
	_, srv := newFakeServer(t, authLevelRemembered)
	c := newTestClient(t, srv)

	err := c.Login(context.Background(), "me@example.com", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Login() = %v, want ErrUnauthorized", err)
	}

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Login() error %T is not a RemoteError", err)
	}
	if remote.Code != 202 || remote.Message != "Incorrect password" {
		t.Errorf("RemoteError = %+v", remote)
	}
}

func TestTwoFactor_UnsupportedMode(t *testing.T) {
	_, srv := newFakeServer(t, authLevelRemembered)
	c := newTestClient(t, srv)
	if err := c.TwoFactorChallenge(context.Background(), TwoFactorMode("EMAIL")); err == nil {
		t.Error("TwoFactorChallenge(EMAIL) = nil, want error")
	}
}

func TestFetch_RestoredSession(t *testing.T) {
	fs, srv := newFakeServer(t, authLevelRemembered)
	c := newTestClient(t, srv)
	c.SetSession(session.Session{"SESSION": "restored", csrfKey: "restored-csrf"})

	resp, err := c.Fetch(context.Background(), "/newaccount/getAccounts", nil)
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}

	networth, err := resp.Decimal("$.spData.networth")
	if err != nil {
		t.Fatal(err)
	}
	if !networth.Equal(decimal.RequireFromString("486483.22")) {
		t.Errorf("networth = %s, want 486483.22", networth)
	}

	form := fs.form("/api/newaccount/getAccounts")
	if form.Get("csrf") != "restored-csrf" || form.Get("lastServerChangeId") != "-1" || form.Get("apiClient") != "WEB" {
		t.Errorf("Fetch form = %v", form)
	}
	for _, call := range fs.calls {
		if call == "/api/login/identifyUser" {
			t.Error("Fetch with a restored session must not log in")
		}
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name          string
		reply         func(w http.ResponseWriter, r *http.Request)
		wantStatus    int
		wantUnauth    bool
		wantTemporary bool
	}{
		{
			name: "session expired",
			reply: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"spHeader":{"success":false,"errors":[{"code":201,"message":"Session not authenticated"}]}}`)
			},
			wantStatus: 200,
			wantUnauth: true,
		},
		{
			name: "http 401",
			reply: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantStatus: 401,
			wantUnauth: true,
		},
		{
			name: "server error",
			reply: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantStatus:    502,
			wantTemporary: true,
		},
		{
			name: "not json",
			reply: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<html>maintenance</html>`)
			},
			wantStatus: 200,
		},
		{
			name: "other api error",
			reply: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"spHeader":{"success":false,"errors":[{"code":500,"message":"boom"}]}}`)
			},
			wantStatus: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, srv := newFakeServer(t, authLevelRemembered)
			fs.fetchReply = tt.reply
			c := newTestClient(t, srv)

			_, err := c.Fetch(context.Background(), "/newaccount/getAccounts", nil)
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("Fetch() error = %v, want *RemoteError", err)
			}
			if remote.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", remote.StatusCode, tt.wantStatus)
			}
			if remote.Endpoint != "/newaccount/getAccounts" {
				t.Errorf("Endpoint = %q", remote.Endpoint)
			}
			if got := errors.Is(err, ErrUnauthorized); got != tt.wantUnauth {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v", got, tt.wantUnauth)
			}
			if got := remote.Temporary(); got != tt.wantTemporary {
				t.Errorf("Temporary() = %v, want %v", got, tt.wantTemporary)
			}
		})
	}
}

func TestLogin_NoCSRFOnHomePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>no token here</html>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Login(context.Background(), "me@example.com", "secret")
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Endpoint != "/" {
		t.Fatalf("Login() = %v, want RemoteError for home page", err)
	}
}
