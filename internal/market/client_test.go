package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skillport-dev/skillport/internal/skerr"
)

func TestSchemeEnforcement(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://market.skillport.dev/api", true},
		{"http://localhost:8080/api", true},
		{"http://127.0.0.1/api", true},
		{"http://market.skillport.dev/api", false},
		{"ftp://market.skillport.dev", false},
	}
	for _, tc := range cases {
		err := checkScheme(tc.url)
		if tc.ok && err != nil {
			t.Errorf("checkScheme(%q) = %v, want nil", tc.url, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("checkScheme(%q) accepted", tc.url)
		}
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/skills/search" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("id") != "alice/demo" {
			t.Errorf("query id = %q", r.URL.Query().Get("id"))
		}
		w.Write([]byte(`{"results":[{"id":"alice/demo","latest_version":"1.0.0"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	results, err := c.Search(context.Background(), "alice/demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "alice/demo" {
		t.Fatalf("results = %+v", results)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		code   skerr.Code
		retry  bool
	}{
		{http.StatusUnauthorized, skerr.CodeAuthRequired, false},
		{http.StatusForbidden, skerr.CodeForbidden, false},
		{http.StatusNotFound, skerr.CodeNotFound, false},
		{http.StatusTooManyRequests, skerr.CodeRateLimited, true},
		{http.StatusInternalServerError, skerr.CodeNetwork, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := New(srv.URL, "")
		_, err := c.Search(context.Background(), "alice/demo")
		if !skerr.Is(err, tc.code) {
			t.Errorf("status %d: code = %s, want %s", tc.status, skerr.CodeOf(err), tc.code)
		}
		var se *skerr.Error
		if errors.As(err, &se) && se.Retryable != tc.retry {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, se.Retryable, tc.retry)
		}
		srv.Close()
	}
}

func TestDownloadSizeCap(t *testing.T) {
	big := make([]byte, MaxDownloadBytes+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Download(context.Background(), srv.URL+"/big.ssp")
	if !skerr.Is(err, skerr.CodeInputInvalid) {
		t.Fatalf("expected InputInvalid for oversized download, got %v", err)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	c := New("https://market.skillport.dev", "")
	err := c.Upload(context.Background(), "alice/demo", []byte("zip"))
	if !skerr.Is(err, skerr.CodeAuthRequired) {
		t.Fatalf("expected AuthRequired, got %v", err)
	}
}

func TestAuthHeaderSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok123")
	if _, err := c.Search(context.Background(), "alice/demo"); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer tok123" {
		t.Fatalf("auth header = %q", got)
	}
}
