// Package market is the marketplace client the install and publish paths
// consume: search by SSP id, request a time-limited download URL, register
// a public key, upload a signed archive. All operations are JSON over
// HTTPS; plain http is accepted only for loopback hosts.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skillport-dev/skillport/internal/skerr"
)

// MaxDownloadBytes caps archive downloads on the install/scan path.
const MaxDownloadBytes = 10 << 20 // 10 MiB

const requestTimeout = 60 * time.Second

type Client struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
}

// New creates a marketplace client. The base URL scheme is validated on
// first use, not here, so a client can be constructed from any config.
func New(baseURL, authToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AuthToken:  authToken,
		HTTPClient: &http.Client{Timeout: requestTimeout},
	}
}

// SkillInfo is one marketplace search result.
type SkillInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	LatestVersion string `json:"latest_version"`
	AuthorKeyID   string `json:"author_key_id"`
	RiskScore     int    `json:"risk_score"`
}

// Search looks up a skill by SSP id.
func (c *Client) Search(ctx context.Context, sspID string) ([]SkillInfo, error) {
	var out struct {
		Results []SkillInfo `json:"results"`
	}
	q := url.Values{}
	q.Set("id", sspID)
	if err := c.getJSON(ctx, "/api/v1/skills/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// DownloadURL requests a time-limited URL for an archive.
func (c *Client) DownloadURL(ctx context.Context, sspID, version string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	path := fmt.Sprintf("/api/v1/skills/%s/download?version=%s", url.PathEscape(sspID), url.QueryEscape(version))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", skerr.New(skerr.CodeNotFound, "marketplace returned no download URL for %s", sspID)
	}
	return out.URL, nil
}

// Download fetches archive bytes from a previously issued URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := checkScheme(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeInputInvalid, err, "build download request")
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeNetwork, err, "download archive").WithRetryable()
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, "download"); err != nil {
		return nil, err
	}
	blob, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, skerr.Wrap(skerr.CodeNetwork, err, "read download").WithRetryable()
	}
	if len(blob) > MaxDownloadBytes {
		return nil, skerr.New(skerr.CodeInputInvalid, "archive exceeds %d bytes", int64(MaxDownloadBytes))
	}
	return blob, nil
}

// RegisterKey uploads a PEM public key under a label.
func (c *Client) RegisterKey(ctx context.Context, pubPEM []byte, label string) error {
	body := map[string]string{"public_key": string(pubPEM), "label": label}
	return c.postJSON(ctx, "/api/v1/keys", body, nil)
}

// Upload publishes a signed .ssp archive.
func (c *Client) Upload(ctx context.Context, sspID string, archive []byte) error {
	if c.AuthToken == "" {
		return skerr.New(skerr.CodeAuthRequired, "publishing requires an auth token").
			WithHints("set SKILLPORT_AUTH_TOKEN or log in")
	}
	target := c.BaseURL + "/api/v1/skills/" + url.PathEscape(sspID) + "/upload"
	if err := checkScheme(target); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(archive))
	if err != nil {
		return skerr.Wrap(skerr.CodeInputInvalid, err, "build upload request")
	}
	req.Header.Set("Content-Type", "application/zip")
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return skerr.Wrap(skerr.CodeNetwork, err, "upload archive").WithRetryable()
	}
	defer resp.Body.Close()
	return statusError(resp.StatusCode, "upload")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	target := c.BaseURL + path
	if err := checkScheme(target); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return skerr.Wrap(skerr.CodeInputInvalid, err, "build request")
	}
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return skerr.Wrap(skerr.CodeNetwork, err, "marketplace request").WithRetryable()
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	blob, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return skerr.Wrap(skerr.CodeNetwork, err, "read response").WithRetryable()
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return skerr.Wrap(skerr.CodeNetwork, err, "decode response")
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	target := c.BaseURL + path
	if err := checkScheme(target); err != nil {
		return err
	}
	blob, err := json.Marshal(body)
	if err != nil {
		return skerr.Wrap(skerr.CodeInternal, err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(blob))
	if err != nil {
		return skerr.Wrap(skerr.CodeInputInvalid, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return skerr.Wrap(skerr.CodeNetwork, err, "marketplace request").WithRetryable()
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	respBlob, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return skerr.Wrap(skerr.CodeNetwork, err, "read response").WithRetryable()
	}
	return json.Unmarshal(respBlob, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: requestTimeout}
}

// checkScheme enforces HTTPS for non-loopback hosts.
func checkScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return skerr.Wrap(skerr.CodeInputInvalid, err, "invalid marketplace URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		host := strings.ToLower(u.Hostname())
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return skerr.New(skerr.CodeInputInvalid, "plain http is only allowed for loopback hosts, got %s", host)
	default:
		return skerr.New(skerr.CodeInputInvalid, "unsupported URL scheme %q", u.Scheme)
	}
}

func statusError(status int, what string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return skerr.New(skerr.CodeAuthRequired, "marketplace rejected credentials for %s", what).
			WithHints("log in again or refresh SKILLPORT_AUTH_TOKEN")
	case status == http.StatusForbidden:
		return skerr.New(skerr.CodeForbidden, "marketplace denied access to %s", what)
	case status == http.StatusNotFound:
		return skerr.New(skerr.CodeNotFound, "marketplace has no %s", what)
	case status == http.StatusTooManyRequests:
		return skerr.New(skerr.CodeRateLimited, "marketplace rate limit on %s", what).WithRetryable()
	default:
		return skerr.New(skerr.CodeNetwork, "marketplace returned status %d for %s", status, what).WithRetryable()
	}
}
