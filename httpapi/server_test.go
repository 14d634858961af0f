package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	otpcore "github.com/MrEthical07/otpcore"
	"github.com/MrEthical07/otpcore/datarequest"
)

type fakeDirectory struct {
	mu        sync.Mutex
	customers map[string]*otpcore.Customer
}

func (d *fakeDirectory) GetCustomer(_ context.Context, customerID string) (*otpcore.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cust, ok := d.customers[customerID]
	if !ok {
		return nil, errors.New("unknown customer")
	}
	copied := *cust
	return &copied, nil
}

func (d *fakeDirectory) EnsureCustomer(_ context.Context, email string) (*otpcore.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cust := range d.customers {
		if cust.Email == email {
			copied := *cust
			return &copied, nil
		}
	}
	cust := &otpcore.Customer{
		CustomerID: fmt.Sprintf("cust%d", len(d.customers)+1),
		Email:      email,
		Plan:       otpcore.PlanFree,
		Status:     otpcore.CustomerActive,
	}
	d.customers[cust.CustomerID] = cust
	copied := *cust
	return &copied, nil
}

func (d *fakeDirectory) IsSuperAdmin(context.Context, string) (bool, error) {
	return false, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	lastCode string
}

func (n *fakeNotifier) SendOTP(_ context.Context, _, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastCode = code
	return nil
}

func (n *fakeNotifier) code() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastCode
}

type testServer struct {
	engine   *otpcore.Engine
	server   *httptest.Server
	notifier *fakeNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := otpcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-signing-secret-test-signing")

	notifier := &fakeNotifier{}
	engine, err := otpcore.New().
		WithRedis(rdb).
		WithDirectory(&fakeDirectory{customers: map[string]*otpcore.Customer{}}).
		WithNotifier(notifier).
		WithConfig(cfg).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	server := httptest.NewServer(NewServer(engine).Handler())
	t.Cleanup(server.Close)

	return &testServer{engine: engine, server: server, notifier: notifier}
}

func (ts *testServer) post(t *testing.T, path, body string, cookies []*http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string, cookies []*http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// login drives the full OTP flow and returns the session cookies.
func (ts *testServer) login(t *testing.T, email string) []*http.Cookie {
	t.Helper()

	resp := ts.post(t, "/auth/request-otp", fmt.Sprintf(`{"email":%q}`, email), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp status = %d", resp.StatusCode)
	}

	resp = ts.post(t, "/auth/verify-otp",
		fmt.Sprintf(`{"email":%q,"otp":%q}`, email, ts.notifier.code()), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp status = %d", resp.StatusCode)
	}
	return resp.Cookies()
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestLoginFlowSetsCookies(t *testing.T) {
	ts := newTestServer(t)

	cookies := ts.login(t, "alice@example.com")

	auth := findCookie(cookies, "auth_token")
	refresh := findCookie(cookies, "refresh_token")
	if auth == nil || refresh == nil {
		t.Fatalf("missing session cookies: %v", cookies)
	}
	for _, c := range []*http.Cookie{auth, refresh} {
		if !c.HttpOnly || c.Path != "/" || c.MaxAge <= 0 {
			t.Fatalf("cookie policy violated: %+v", c)
		}
	}
	if refresh.MaxAge <= auth.MaxAge {
		t.Fatalf("refresh cookie must outlive access cookie: %d vs %d", refresh.MaxAge, auth.MaxAge)
	}
}

func TestMeFromCookieOnly(t *testing.T) {
	ts := newTestServer(t)
	cookies := ts.login(t, "alice@example.com")

	resp := ts.get(t, "/auth/me", cookies)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["customer_id"] != "cust1" {
		t.Fatalf("customer_id = %v", body["customer_id"])
	}

	// No cookie, no identity. Headers are not a substitute.
	resp = ts.get(t, "/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cookieless me status = %d", resp.StatusCode)
	}
}

func TestRefreshRotatesCookies(t *testing.T) {
	ts := newTestServer(t)
	cookies := ts.login(t, "alice@example.com")
	oldRefresh := findCookie(cookies, "refresh_token")

	resp := ts.post(t, "/auth/refresh", "", cookies)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	newRefresh := findCookie(resp.Cookies(), "refresh_token")
	if newRefresh == nil || newRefresh.Value == oldRefresh.Value {
		t.Fatal("refresh cookie was not rotated")
	}

	// The spent cookie is dead.
	resp = ts.post(t, "/auth/refresh", "", cookies)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reuse status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "invalid_grant" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestRefreshBodyFallback(t *testing.T) {
	ts := newTestServer(t)
	cookies := ts.login(t, "alice@example.com")
	refresh := findCookie(cookies, "refresh_token")

	resp := ts.post(t, "/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, refresh.Value), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("body fallback status = %d", resp.StatusCode)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	ts := newTestServer(t)
	cookies := ts.login(t, "alice@example.com")

	resp := ts.post(t, "/auth/logout", "", cookies)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	for _, name := range []string{"auth_token", "refresh_token"} {
		c := findCookie(resp.Cookies(), name)
		if c == nil || c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not cleared: %+v", name, c)
		}
	}

	resp = ts.get(t, "/auth/me", cookies)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout me status = %d", resp.StatusCode)
	}
}

func TestRequestOTPRateLimited(t *testing.T) {
	ts := newTestServer(t)

	body := `{"email":"alice@example.com"}`
	for i := 0; i < 3; i++ {
		resp := ts.post(t, "/auth/request-otp", body, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, resp.StatusCode)
		}
	}

	resp := ts.post(t, "/auth/request-otp", body, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("denial status = %d", resp.StatusCode)
	}
	decoded := decodeBody(t, resp)
	if decoded["error"] != "rate_limit_exceeded" || decoded["reset_at"] == "" {
		t.Fatalf("denial body = %v", decoded)
	}
}

func TestBadAPIKeyFailsRequest(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/auth/request-otp",
		strings.NewReader(`{"email":"alice@example.com"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(apiKeyHeader, "sk_bogus")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	// A present but invalid credential fails; it never downgrades to
	// anonymous.
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDataRequestDecision(t *testing.T) {
	ts := newTestServer(t)
	cookies := ts.login(t, "alice@example.com")

	req, err := ts.engine.CreateDataRequest(context.Background(), otpcore.DataRequestInput{
		RequesterID:      "req777",
		TargetUserID:     "cust1",
		TargetCustomerID: "cust1",
		DataType:         "tax_id",
		Reason:           "audit",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := ts.get(t, "/customer/data-requests", cookies)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	listed := decodeBody(t, resp)
	if reqs, ok := listed["requests"].([]any); !ok || len(reqs) != 1 {
		t.Fatalf("requests = %v", listed["requests"])
	}

	resp = ts.post(t, "/customer/data-requests",
		fmt.Sprintf(`{"action":"approve","request_id":%q,"requester_token":"rtok"}`, req.RequestID),
		cookies)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	approved := decodeBody(t, resp)
	if approved["status"] != datarequest.StatusApproved {
		t.Fatalf("status = %v", approved["status"])
	}

	stored, err := ts.engine.ResolveRequestKey(context.Background(), req.RequestID, "req777", "rtok")
	if err != nil || len(stored) == 0 {
		t.Fatalf("resolve key: %v", err)
	}

	// Deciding again conflicts.
	resp = ts.post(t, "/customer/data-requests",
		fmt.Sprintf(`{"action":"reject","request_id":%q}`, req.RequestID), cookies)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second decision status = %d", resp.StatusCode)
	}
}
