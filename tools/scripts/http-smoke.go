// Package main provides a CI-friendly HTTP smoke test for a running sqlident
// server started with demo login enabled.
//
// It validates:
//   - health and readiness probes
//   - login issues a token in the configured response header
//   - /me resolves each token to the same user
//   - logout forgets one token and leaves the other alive
//   - forgotten and garbage tokens are anonymous
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	base    string
	header  string
	timeout time.Duration
	http    *http.Client
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		header  = flag.String("header", "X-Identity-Token", "Response header carrying issued tokens")
		user    = flag.String("user", fmt.Sprintf("smoke-%d", time.Now().UnixNano()), "User id to log in as")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		header:  *header,
		timeout: *timeout,
		http:    &http.Client{},
		verbose: *verbose,
	}
	root := context.Background()

	c.mustStatus(root, http.MethodGet, "/healthz", "", nil, http.StatusOK)
	c.mustStatus(root, http.MethodGet, "/readyz", "", nil, http.StatusOK)

	a := c.mustLogin(root, *user)
	b := c.mustLogin(root, *user)
	if a == b {
		fatalf("two logins returned the same token")
	}
	if c.verbose {
		fmt.Printf("logged in twice as %q\n", *user)
	}

	c.mustMe(root, a, *user)
	c.mustMe(root, b, *user)

	c.mustStatus(root, http.MethodPost, "/auth/logout", a, nil, http.StatusNoContent)
	c.mustStatus(root, http.MethodGet, "/me", a, nil, http.StatusUnauthorized)
	c.mustMe(root, b, *user)

	c.mustStatus(root, http.MethodPost, "/auth/logout", a, nil, http.StatusUnauthorized)
	c.mustStatus(root, http.MethodGet, "/me", strings.Repeat("0", 32), nil, http.StatusUnauthorized)
	c.mustStatus(root, http.MethodGet, "/me", "not-a-token", nil, http.StatusUnauthorized)

	c.mustStatus(root, http.MethodPost, "/auth/logout", b, nil, http.StatusNoContent)

	fmt.Println("OK: http smoke passed")
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) do(parent context.Context, method, path, token string, body any) (*http.Response, []byte) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s body: %v", path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		fatalf("build %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "sqlident-http-smoke")

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s -> %d\n", method, path, resp.StatusCode)
	}
	return resp, raw
}

func (c *smokeClient) mustStatus(parent context.Context, method, path, token string, body any, want int) []byte {
	resp, raw := c.do(parent, method, path, token, body)
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, strings.TrimSpace(string(raw)))
	}
	return raw
}

func (c *smokeClient) mustLogin(parent context.Context, userID string) string {
	resp, raw := c.do(parent, http.MethodPost, "/auth/login", "", map[string]string{"user_id": userID})
	if resp.StatusCode != http.StatusOK {
		fatalf("login: status=%d body=%s (is demo_login enabled?)", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	tok := resp.Header.Get(c.header)
	if len(tok) != 32 {
		fatalf("login: expected a 32-char token in %s, got %q", c.header, tok)
	}
	return tok
}

func (c *smokeClient) mustMe(parent context.Context, token, wantUser string) {
	raw := c.mustStatus(parent, http.MethodGet, "/me", token, nil, http.StatusOK)

	var me struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &me); err != nil {
		fatalf("me: decode: %v", err)
	}
	if me.UserID != wantUser {
		fatalf("me: user_id=%q want=%q", me.UserID, wantUser)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
