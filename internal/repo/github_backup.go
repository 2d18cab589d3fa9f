package repo

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// ErrBackupNotFound is returned by Restore when the backup file does not exist.
var ErrBackupNotFound = errors.New("backup file not found")

// GitHubBackup mirrors the id file into a repository through the contents API.
type GitHubBackup struct {
	Owner  string
	Repo   string
	Path   string
	Branch string

	client *resty.Client
}

type contentsFile struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type contentsPut struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type githubError struct {
	Message string `json:"message"`
}

// NewGitHubBackup returns a backup client authenticated with token. baseURL
// defaults to DefaultGitHubAPI.
func NewGitHubBackup(baseURL, token, owner, repo, path, branch string) *GitHubBackup {
	if baseURL == "" {
		baseURL = DefaultGitHubAPI
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetError(&githubError{})
	if token != "" {
		c.SetAuthToken(token)
	}
	return &GitHubBackup{Owner: owner, Repo: repo, Path: path, Branch: branch, client: c}
}

func (g *GitHubBackup) contentsPath() string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", g.Owner, g.Repo, strings.TrimLeft(g.Path, "/"))
}

// Backup uploads users as the id file, creating or updating it. An empty
// registry is not uploaded so a fresh process never clobbers a good backup.
func (g *GitHubBackup) Backup(ctx context.Context, users []domain.User) error {
	if len(users) == 0 {
		return nil
	}
	sha, err := g.currentSHA(ctx)
	if err != nil && !errors.Is(err, ErrBackupNotFound) {
		return err
	}

	body := contentsPut{
		Message: fmt.Sprintf("Update user ids (%d users)", len(users)),
		Content: base64.StdEncoding.EncodeToString(EncodeIDs(users)),
		SHA:     sha,
		Branch:  g.Branch,
	}
	resp, err := g.client.R().SetContext(ctx).SetBody(body).Put(g.contentsPath())
	if err != nil {
		return fmt.Errorf("github backup: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("github backup: %s", describe(resp))
	}
	return nil
}

// Restore downloads the id file.
func (g *GitHubBackup) Restore(ctx context.Context) ([]domain.User, error) {
	f, err := g.get(ctx)
	if err != nil {
		return nil, err
	}
	if f.Encoding != "" && f.Encoding != "base64" {
		return nil, fmt.Errorf("github restore: unsupported encoding %q", f.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(f.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("github restore: %w", err)
	}
	ids, err := DecodeIDs(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("github restore: %w", err)
	}
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, domain.User{ID: id})
	}
	return users, nil
}

func (g *GitHubBackup) currentSHA(ctx context.Context) (string, error) {
	f, err := g.get(ctx)
	if err != nil {
		return "", err
	}
	return f.SHA, nil
}

func (g *GitHubBackup) get(ctx context.Context) (*contentsFile, error) {
	req := g.client.R().SetContext(ctx).SetResult(&contentsFile{})
	if g.Branch != "" {
		req.SetQueryParam("ref", g.Branch)
	}
	resp, err := req.Get(g.contentsPath())
	if err != nil {
		return nil, fmt.Errorf("github fetch: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrBackupNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("github fetch: %s", describe(resp))
	}
	return resp.Result().(*contentsFile), nil
}

func describe(resp *resty.Response) string {
	if e, ok := resp.Error().(*githubError); ok && e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), e.Message)
	}
	return "HTTP " + resp.Status()
}
