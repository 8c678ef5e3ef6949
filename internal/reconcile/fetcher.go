package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/model"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 10 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second
)

// Session identifies the dashboard user a client acts for.
type Session struct {
	PrincipalID string
	TenantID    string
	Role        model.Role
}

// Header returns the session headers the service expects.
func (s Session) Header() http.Header {
	h := http.Header{}
	h.Set(auth.HeaderPrincipalID, s.PrincipalID)
	h.Set(auth.HeaderTenantID, s.TenantID)
	h.Set(auth.HeaderRole, string(s.Role))
	return h
}

// HTTPFetcher reads authoritative state over the REST API.
type HTTPFetcher struct {
	baseURL string
	session Session
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the service at baseURL.
func NewHTTPFetcher(baseURL string, session Session) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: session,
		client:  NewHTTPClient(),
	}
}

// NewHTTPClient creates an HTTP client with bounded timeouts that does not
// follow redirects.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// UnseenCount fetches the principal's unseen notification count.
func (f *HTTPFetcher) UnseenCount(ctx context.Context) (int64, error) {
	var body struct {
		TotalUnseenNotifications int64 `json:"totalUnseenNotifications"`
	}
	status, err := f.get(ctx, "/notifications/unseen", &body)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("unseen count: unexpected status %d", status)
	}
	return body.TotalUnseenNotifications, nil
}

// Balance fetches the tenant's balance for kind. A pool that was never
// purchased reads as zero.
func (f *HTTPFetcher) Balance(ctx context.Context, kind model.CreditKind) (int64, error) {
	var body struct {
		Balance int64 `json:"balance"`
	}
	status, err := f.get(ctx, "/credits/balance?kind="+url.QueryEscape(string(kind)), &body)
	if err != nil {
		return 0, err
	}
	switch status {
	case http.StatusOK:
		return body.Balance, nil
	case http.StatusNotFound:
		return 0, nil
	default:
		return 0, fmt.Errorf("balance %s: unexpected status %d", kind, status)
	}
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header = f.session.Header()
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
