package guildsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(baseURL string) *httpRemoteClient {
	limiter := make(chan time.Time)
	close(limiter)
	return &httpRemoteClient{
		baseURL: baseURL,
		token:   "test-token",
		guildId: "guild-1",
		http:    &http.Client{Timeout: 5 * time.Second},
		limiter: limiter,
	}
}

func TestClientStatusMapping(t *testing.T) {
	status := http.StatusOK
	body := `{}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	cases := []struct {
		status int
		kind   RemoteErrorKind
	}{
		{http.StatusNotFound, RemoteErrorNotFound},
		{http.StatusBadGateway, RemoteErrorTransient},
		{http.StatusForbidden, RemoteErrorPermanent},
	}
	for _, tc := range cases {
		status = tc.status
		err := c.RenameResource(context.Background(), "chan-1", "x")
		re, ok := AsRemoteError(err)
		if !ok || re.Kind != tc.kind {
			t.Fatalf("status %d: expected %s, got %v", tc.status, tc.kind, err)
		}
	}

	status = http.StatusOK
	if err := c.RenameResource(context.Background(), "chan-1", "x"); err != nil {
		t.Fatalf("2xx must succeed, got %v", err)
	}
}

func TestClientRateLimitHonorsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":7.0}`))
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	err := c.RenameResource(context.Background(), "chan-1", "x")
	re, ok := AsRemoteError(err)
	if !ok || re.Kind != RemoteErrorRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	if re.RetryAfter != 7*time.Second {
		t.Fatalf("expected retry-after 7s, got %s", re.RetryAfter)
	}
}

func TestClientRateLimitBodyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":1.5}`))
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	err := c.RenameResource(context.Background(), "chan-1", "x")
	re, _ := AsRemoteError(err)
	if re == nil || re.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("expected retry-after from body, got %v", err)
	}
}

func TestClientDeleteSendsAuditReason(t *testing.T) {
	var gotReason, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReason = r.Header.Get("X-Audit-Log-Reason")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	if err := c.DeleteResource(context.Background(), "chan-1", "category removed locally"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotReason != "category removed locally" {
		t.Fatalf("expected audit reason header, got %q", gotReason)
	}
	if gotAuth != "Bot test-token" {
		t.Fatalf("expected bot auth header, got %q", gotAuth)
	}
}

func TestClientFetchResourceParsesOverwrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "chan-4",
			"name": "general",
			"type": 4,
			"permission_overwrites": [
				{"id": "guild-1", "type": 0, "allow": "0", "deny": "1024"},
				{"id": "role-a", "type": 0, "allow": "1024", "deny": "0"},
				{"id": "user-9", "type": 1, "allow": "1024", "deny": "0"}
			]
		}`))
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	res, err := c.FetchResource(context.Background(), "chan-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != "category" || res.Name != "general" {
		t.Fatalf("unexpected resource: %+v", res)
	}
	if res.VisibleTo("guild-1") {
		t.Fatal("denied everyone-role must not be visible")
	}
	if !res.VisibleTo("role-a") {
		t.Fatal("allowed role must be visible")
	}
	if _, ok := res.RoleVisibility["user-9"]; ok {
		t.Fatal("member overwrites must be ignored")
	}
	allowed := res.AllowedRoleIds("guild-1")
	if len(allowed) != 1 || allowed[0] != "role-a" {
		t.Fatalf("unexpected allowed roles: %v", allowed)
	}
}
