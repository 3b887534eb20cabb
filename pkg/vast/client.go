// Package vast is a client for the subset of the Vast.ai marketplace API
// that vastmark consumes: offer search, instance lifecycle, and log
// retrieval. All marketplace logic (matching, pricing, billing) lives on the
// other side of this contract.
package vast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultHTTPTimeout = 60 * time.Second

// ErrNoOfferFound indicates the search returned no rentable offer for the
// requested machine.
var ErrNoOfferFound = errors.New("no offer found")

// Client talks to the marketplace API.
type Client interface {
	// SearchOffers returns rentable offers for the given machine id,
	// cheapest first.
	SearchOffers(ctx context.Context, machineID int) ([]Offer, error)

	// CreateInstance accepts an offer and returns the new instance id.
	CreateInstance(ctx context.Context, offerID int, spec *CreateSpec) (int, error)

	// GetInstance returns the current state of an instance.
	GetInstance(ctx context.Context, instanceID int) (*Instance, error)

	// ListInstances returns all instances owned by the caller.
	ListInstances(ctx context.Context) ([]Instance, error)

	// DestroyInstance tears down a rented instance.
	DestroyInstance(ctx context.Context, instanceID int) error

	// GetLogs returns the raw log output of an instance.
	GetLogs(ctx context.Context, instanceID int) ([]byte, error)
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log     logrus.FieldLogger
	cfg     *config.VastConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a marketplace client. Requests are rate limited client
// side so a wide batch run cannot trip the marketplace's own limits.
func NewClient(log logrus.FieldLogger, cfg *config.VastConfig) Client {
	rps := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)

	return &client{
		log:     log.WithField("component", "vast"),
		cfg:     cfg,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		limiter: rate.NewLimiter(rps, cfg.RequestsPerMinute),
	}
}

type searchRequest struct {
	MachineID map[string]int `json:"machine_id"`
	Rentable  map[string]bool `json:"rentable"`
}

type searchResponse struct {
	Offers []Offer `json:"offers"`
}

// SearchOffers returns rentable offers for the given machine id, cheapest
// first.
func (c *client) SearchOffers(ctx context.Context, machineID int) ([]Offer, error) {
	body, err := json.Marshal(searchRequest{
		MachineID: map[string]int{"eq": machineID},
		Rentable:  map[string]bool{"eq": true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search query: %w", err)
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/bundles/", body, &resp); err != nil {
		return nil, fmt.Errorf("searching offers: %w", err)
	}

	if len(resp.Offers) == 0 {
		return nil, fmt.Errorf("%w for machine %d", ErrNoOfferFound, machineID)
	}

	offers := resp.Offers
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].DPHTotal < offers[j].DPHTotal
	})

	c.log.WithFields(logrus.Fields{
		"machine": machineID,
		"offers":  len(offers),
	}).Debug("Offer search completed")

	return offers, nil
}

type createRequest struct {
	ClientID string  `json:"client_id"`
	Image    string  `json:"image"`
	Disk     float64 `json:"disk"`
	Label    string  `json:"label"`
	OnStart  string  `json:"onstart,omitempty"`
}

type createResponse struct {
	Success     bool `json:"success"`
	NewContract int  `json:"new_contract"`
}

// CreateInstance accepts an offer and returns the new instance id.
func (c *client) CreateInstance(ctx context.Context, offerID int, spec *CreateSpec) (int, error) {
	body, err := json.Marshal(createRequest{
		ClientID: "me",
		Image:    spec.Image,
		Disk:     spec.DiskGB,
		Label:    spec.Label,
		OnStart:  spec.OnStart,
	})
	if err != nil {
		return 0, fmt.Errorf("marshaling create request: %w", err)
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/asks/%d/", offerID), body, &resp); err != nil {
		return 0, fmt.Errorf("creating instance from offer %d: %w", offerID, err)
	}

	if !resp.Success || resp.NewContract == 0 {
		return 0, fmt.Errorf("instance creation rejected for offer %d", offerID)
	}

	c.log.WithFields(logrus.Fields{
		"offer":    offerID,
		"instance": resp.NewContract,
		"label":    spec.Label,
	}).Info("Instance created")

	return resp.NewContract, nil
}

type showResponse struct {
	Instances Instance `json:"instances"`
}

// GetInstance returns the current state of an instance.
func (c *client) GetInstance(ctx context.Context, instanceID int) (*Instance, error) {
	var resp showResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/instances/%d/", instanceID), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching instance %d: %w", instanceID, err)
	}

	return &resp.Instances, nil
}

type listResponse struct {
	Instances []Instance `json:"instances"`
}

// ListInstances returns all instances owned by the caller.
func (c *client) ListInstances(ctx context.Context) ([]Instance, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/instances/", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	return resp.Instances, nil
}

// DestroyInstance tears down a rented instance.
func (c *client) DestroyInstance(ctx context.Context, instanceID int) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/instances/%d/", instanceID), nil, nil); err != nil {
		return fmt.Errorf("destroying instance %d: %w", instanceID, err)
	}

	c.log.WithField("instance", instanceID).Info("Instance destroyed")

	return nil
}

// GetLogs returns the raw log output of an instance.
func (c *client) GetLogs(ctx context.Context, instanceID int) ([]byte, error) {
	data, err := c.doRaw(ctx, http.MethodGet, fmt.Sprintf("/instances/%d/logs/", instanceID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching logs for instance %d: %w", instanceID, err)
	}

	return data, nil
}

// do issues a JSON request and decodes the response into out (when non-nil).
func (c *client) do(ctx context.Context, method, path string, body []byte, out any) error {
	data, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response body: %w", err)
	}

	return nil
}

func (c *client) doRaw(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}

	return data, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}

	return string(data[:n]) + "..."
}
