// Package github stores documents as files in a GitHub repository through the
// contents API. The blob sha is the document version; GitHub rejects an
// update whose sha is no longer the file's current one.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raakeshmj/licensegate/internal/repository"
)

const DefaultBaseURL = "https://api.github.com"

type Options struct {
	BaseURL string
	Token   string
	Owner   string
	Repo    string
	Branch  string
	// CommitMessage is used for every write.
	CommitMessage string
	HTTPClient    *http.Client
}

type Store struct {
	opts   Options
	client *http.Client
}

func New(opts Options) *Store {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.CommitMessage == "" {
		opts.CommitMessage = "Update accounts"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Store{opts: opts, client: client}
}

type contentResponse struct {
	SHA         string `json:"sha"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	Size        int    `json:"size"`
	DownloadURL string `json:"download_url"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, repository.Version, error) {
	endpoint := s.contentsURL(key)
	if s.opts.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(s.opts.Branch)
	}

	req, err := s.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("github get %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", repository.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("github get %s: unexpected status %d", key, resp.StatusCode)
	}

	var body contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("github get %s: decode: %w", key, err)
	}

	// Files above the inline limit come back without content.
	if body.Content == "" && body.Size > 0 && body.DownloadURL != "" {
		data, err := s.download(ctx, body.DownloadURL)
		if err != nil {
			return nil, "", err
		}
		return data, repository.Version(body.SHA), nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("github get %s: decode content: %w", key, err)
	}
	return data, repository.Version(body.SHA), nil
}

func (s *Store) PutIfVersion(ctx context.Context, key string, data []byte, version repository.Version) (repository.Version, error) {
	payload, err := json.Marshal(putRequest{
		Message: s.opts.CommitMessage,
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     string(version),
		Branch:  s.opts.Branch,
	})
	if err != nil {
		return "", err
	}

	req, err := s.newRequest(ctx, http.MethodPut, s.contentsURL(key), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("github put %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409: sha does not match; 422: sha missing for an existing file.
		return "", repository.ErrVersionConflict
	default:
		return "", fmt.Errorf("github put %s: unexpected status %d", key, resp.StatusCode)
	}

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("github put %s: decode: %w", key, err)
	}
	return repository.Version(out.Content.SHA), nil
}

// Ping checks that the repository is reachable with the configured token.
func (s *Store) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", s.opts.BaseURL, s.opts.Owner, s.opts.Repo)
	req, err := s.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *Store) contentsURL(key string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.opts.BaseURL, s.opts.Owner, s.opts.Repo, strings.TrimLeft(key, "/"))
}

func (s *Store) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	return req, nil
}

func (s *Store) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github download: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var _ repository.BlobStore = (*Store)(nil)
var _ repository.Pinger = (*Store)(nil)
