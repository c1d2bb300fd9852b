package auth

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCredentialsTokenIsCached(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	client := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", AuthURL: srv.URL})

	for i := 0; i < 3; i++ {
		token, err := client.GetToken()
		if err != nil {
			t.Fatalf("GetToken returned error: %v", err)
		}
		if token != "token123" {
			t.Fatalf("unexpected token %s", token)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one token exchange, got %d", n)
	}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if err := client.SetAuthHeader(req); err != nil {
		t.Fatalf("SetAuthHeader returned error: %v", err)
	}
	if auth := req.Header.Get("Authorization"); auth != "Bearer token123" {
		t.Fatalf("unexpected Authorization header %q", auth)
	}
}

func TestGetTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()
	client := NewClientCred(Conf{ClientID: "id", ClientSecret: "bad", AuthURL: srv.URL})
	if _, err := client.GetToken(); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewHTTPClientStaticToken(t *testing.T) {
	var got string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer api.Close()

	cli, err := NewHTTPClient(Conf{Token: "test-token-123"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := cli.Get(api.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != "Bearer test-token-123" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestNewHTTPClientWithoutCredentials(t *testing.T) {
	cli, err := NewHTTPClient(Conf{}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if cli.Transport != nil {
		t.Fatal("expected default transport")
	}
	if NewClientCred(Conf{}) != nil {
		t.Fatal("expected nil credentials")
	}
}

func TestConfValidate(t *testing.T) {
	cases := map[string]Conf{
		"mixed":   {Token: "t", ClientID: "id", ClientSecret: "s", AuthURL: "http://x"},
		"partial": {ClientID: "id"},
	}
	for name, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if err := (Conf{Token: "t"}).Validate(); err != nil {
		t.Fatal(err)
	}
}
