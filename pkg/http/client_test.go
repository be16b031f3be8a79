package http_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	httpclient "github.com/astro-web3/records-gateway/pkg/http"
)

func TestClient_Forward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-User", r.Header.Get("X-Username"))
		w.Header().Set("X-Echo-Method", r.Method)
		w.Header()["X-Multi"] = r.Header.Values("X-Multi")
		w.Header()["X-Echo-Cookie"] = r.Header.Values("Cookie")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	header := http.Header{}
	header.Set("X-Username", "alice")
	header.Add("X-Multi", "a")
	header.Add("X-Multi", "b")
	header.Add("Cookie", "session=1")
	header.Add("Cookie", "theme=dark")
	header.Set("Content-Type", "application/json")

	resp, err := httpclient.NewClient(time.Second).Forward(context.Background(), httpclient.ForwardRequest{
		Method: http.MethodPost,
		URL:    upstream.URL + "/patients",
		Header: header,
		Body:   strings.NewReader(`{"name":"Jane"}`),
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Echo-User"); got != "alice" {
		t.Errorf("X-Echo-User = %q", got)
	}
	if got := resp.Header.Get("X-Echo-Method"); got != http.MethodPost {
		t.Errorf("X-Echo-Method = %q", got)
	}
	if got := resp.Header.Values("X-Multi"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("X-Multi = %v", got)
	}
	if got := resp.Header.Values("X-Echo-Cookie"); len(got) != 2 || got[0] != "session=1" || got[1] != "theme=dark" {
		t.Errorf("Cookie lines = %v", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"name":"Jane"}` {
		t.Errorf("body = %q", body)
	}
}

func TestClient_Forward_KeepsBodyForEveryMethod(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	client := httpclient.NewClient(time.Second)
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			resp, err := client.Forward(context.Background(), httpclient.ForwardRequest{
				Method: method,
				URL:    upstream.URL + "/patients/1",
				Header: http.Header{"Content-Type": {"application/json"}},
				Body:   strings.NewReader(`{"a":1}`),
			})
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("body = %q, want the request body", body)
			}
		})
	}
}

func TestClient_Forward_DoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	resp, err := httpclient.NewClient(time.Second).Forward(context.Background(), httpclient.ForwardRequest{
		Method: http.MethodGet,
		URL:    upstream.URL + "/reports/5",
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/elsewhere" {
		t.Errorf("location = %q", resp.Header.Get("Location"))
	}
}

func TestClient_Forward_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	resp, err := httpclient.NewClient(time.Second).Forward(context.Background(), httpclient.ForwardRequest{
		Method: http.MethodPost,
		URL:    upstream.URL,
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 1 {
		t.Errorf("upstream called %d times", calls.Load())
	}
}

func TestClient_Forward_Unreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	if _, err := httpclient.NewClient(time.Second).Forward(context.Background(), httpclient.ForwardRequest{
		Method: http.MethodGet,
		URL:    url,
	}); err == nil {
		t.Fatal("expected transport error")
	}
}
