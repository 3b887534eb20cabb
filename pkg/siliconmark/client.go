// Package siliconmark is a minimal client for the SiliconMark benchmark job
// API. It covers the two calls vastmark needs: operator login and benchmark
// job creation.
package siliconmark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/sirupsen/logrus"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrAuthFailure indicates the login call was rejected or yielded an empty
// token. It is fatal; nothing downstream can proceed without a token.
var ErrAuthFailure = errors.New("siliconmark authentication failed")

// Job identifies a created benchmark job. JobToken is the API key the remote
// agent authenticates with.
type Job struct {
	JobID    string `json:"jobId"`
	JobToken string `json:"jobToken"`
}

// Client talks to the benchmark job API.
type Client interface {
	// Login exchanges the configured credentials for a bearer token.
	Login(ctx context.Context) error

	// CreateJob creates a benchmark job and returns its id and agent token.
	// Login must have succeeded first.
	CreateJob(ctx context.Context, nodes int) (*Job, error)
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log   logrus.FieldLogger
	cfg   *config.SiliconMarkConfig
	http  *http.Client
	token string
}

// NewClient creates a job API client from the given configuration.
func NewClient(log logrus.FieldLogger, cfg *config.SiliconMarkConfig) Client {
	return &client{
		log:  log.WithField("component", "siliconmark"),
		cfg:  cfg,
		http: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges the configured credentials for a bearer token.
func (c *client) Login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{
		Email:    c.cfg.Email,
		Password: c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("marshaling login request: %w", err)
	}

	var resp loginResponse
	if err := c.post(ctx, "/login", "", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	if resp.Token == "" {
		return fmt.Errorf("%w: empty token in login response", ErrAuthFailure)
	}

	c.token = resp.Token

	c.log.Debug("Authenticated with job API")

	return nil
}

type createJobRequest struct {
	Name        string   `json:"name"`
	Benchmarks  []string `json:"benchmarks"`
	Nodes       int      `json:"nodes"`
	Description string   `json:"description"`
}

// CreateJob creates a benchmark job covering the given number of nodes.
func (c *client) CreateJob(ctx context.Context, nodes int) (*Job, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: not logged in", ErrAuthFailure)
	}

	body, err := json.Marshal(createJobRequest{
		Name:        c.cfg.JobName,
		Benchmarks:  c.cfg.Benchmarks,
		Nodes:       nodes,
		Description: c.cfg.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling job request: %w", err)
	}

	var job Job
	if err := c.post(ctx, "/jobs", c.token, body, &job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if job.JobID == "" || job.JobToken == "" {
		return nil, fmt.Errorf("job response missing jobId or jobToken")
	}

	c.log.WithFields(logrus.Fields{
		"job":   job.JobID,
		"nodes": nodes,
	}).Info("Benchmark job created")

	return &job, nil
}

// post issues a JSON POST and decodes the response into out.
func (c *client) post(ctx context.Context, path, token string, body []byte, out any) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("POST %s returned %d: %s", path, resp.StatusCode, truncate(data, 256))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response body: %w", err)
	}

	return nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}

	return string(data[:n]) + "..."
}
