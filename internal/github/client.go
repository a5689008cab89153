// Package github provides the GitHub API client, webhook receiver, event
// normalizer and the polling scheduler.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// HookEvents are the repository events a created webhook subscribes to.
var HookEvents = []string{"issues", "pull_request", "push", "issue_comment"}

// UpstreamError reports a failed GitHub API call. StatusCode is 0 when no
// response was received.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github request failed: %v", e.Err)
	}
	return fmt.Sprintf("github responded %d: %v", e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

func upstream(resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	return &UpstreamError{StatusCode: status, Err: err}
}

// Client builds per-subscriber GitHub API clients. Every call is authenticated
// with the token of the subscriber it is made for.
type Client struct {
	baseURL  *url.URL
	base     *http.Client
	pageSize int
}

// NewClient creates a client factory. An empty apiURL targets api.github.com.
func NewClient(apiURL string, pageSize int) (*Client, error) {
	c := &Client{pageSize: pageSize}
	if c.pageSize <= 0 {
		c.pageSize = 10
	}
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		c.baseURL = u
	}
	return c, nil
}

// WithHTTPClient sets the transport underneath the oauth2 layer.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.base = hc
	return c
}

func (c *Client) forToken(token string) *gh.Client {
	ctx := context.Background()
	if c.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	}

	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = c.base
	}

	client := gh.NewClient(hc)
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client
}

// FetchRecentEvents returns one page of the repository's public event feed,
// newest first as GitHub orders it.
func (c *Client) FetchRecentEvents(ctx context.Context, token, owner, repo string) ([]*gh.Event, error) {
	events, resp, err := c.forToken(token).Activity.ListRepositoryEvents(ctx, owner, repo, &gh.ListOptions{
		PerPage: c.pageSize,
	})
	if err != nil {
		return nil, upstream(resp, err)
	}
	return events, nil
}

// Access is the caller's permission level on a repository.
type Access struct {
	Admin bool
	Push  bool
}

// CanManageHooks reports whether the caller may install a repository webhook.
func (a Access) CanManageHooks() bool {
	return a.Admin || a.Push
}

// RepoAccess checks that the repository exists and reports the token
// holder's permissions on it.
func (c *Client) RepoAccess(ctx context.Context, token, owner, repo string) (Access, error) {
	r, resp, err := c.forToken(token).Repositories.Get(ctx, owner, repo)
	if err != nil {
		return Access{}, upstream(resp, err)
	}
	perms := r.GetPermissions()
	return Access{Admin: perms["admin"], Push: perms["push"]}, nil
}

// HookConfig describes the webhook installed on watched repositories.
type HookConfig struct {
	URL    string
	Secret string
}

// CreateHook installs a JSON webhook for HookEvents and returns its id.
func (c *Client) CreateHook(ctx context.Context, token, owner, repo string, cfg HookConfig) (int64, error) {
	hook, resp, err := c.forToken(token).Repositories.CreateHook(ctx, owner, repo, &gh.Hook{
		Events: HookEvents,
		Active: gh.Bool(true),
		Config: map[string]interface{}{
			"url":          cfg.URL,
			"content_type": "json",
			"secret":       cfg.Secret,
			"insecure_ssl": "0",
		},
	})
	if err != nil {
		return 0, upstream(resp, err)
	}
	if hook.GetID() == 0 {
		return 0, fmt.Errorf("github returned a hook without id")
	}
	return hook.GetID(), nil
}

// DeleteHook removes a repository webhook. A hook that is already gone is not
// an error.
func (c *Client) DeleteHook(ctx context.Context, token, owner, repo string, id int64) error {
	resp, err := c.forToken(token).Repositories.DeleteHook(ctx, owner, repo, id)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return upstream(resp, err)
	}
	return nil
}

// AuthenticatedLogin returns the login of the token holder.
func (c *Client) AuthenticatedLogin(ctx context.Context, token string) (string, error) {
	user, resp, err := c.forToken(token).Users.Get(ctx, "")
	if err != nil {
		return "", upstream(resp, err)
	}
	return user.GetLogin(), nil
}
