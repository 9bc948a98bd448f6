// Package client talks to a node's HTTP API on behalf of the CLI.
package client

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

	"spacecomms/pkg/api"
	"spacecomms/pkg/cdm"
	"spacecomms/pkg/types"

	"github.com/cenkalti/backoff/v4"
)

const DefaultAddress = "http://localhost:8080"

// APIError is a non-2xx answer from the node.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("node returned %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("node returned %d %s: %s", e.Status, e.Code, e.Message)
}

// kind maps the status back onto the error kinds used across the module.
func (e *APIError) kind() types.Kind {
	switch {
	case e.Status == http.StatusNotFound:
		return types.KindNotFound
	case e.Status == http.StatusConflict:
		return types.KindAlreadyExists
	case e.Code == "parse_failed":
		return types.KindParse
	case e.Status == http.StatusBadRequest || e.Status == http.StatusRequestEntityTooLarge:
		return types.KindValidation
	}
	return types.KindPeer
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the node at address, e.g. http://localhost:8080.
func New(address string, opts ...Option) (*Client, error) {
	if address == "" {
		address = DefaultAddress
	}
	u, err := url.Parse(address)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, types.Errorf(types.KindConfig, "invalid node address %q", address)
	}
	c := &Client{
		base: strings.TrimRight(address, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return types.Wrap(types.KindInternal, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Wrap(types.KindIO, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Wrap(types.KindIO, err, "read response")
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Code, apiErr.Message = e.Error, e.Message
		} else {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return types.Wrap(apiErr.kind(), apiErr, "%s %s", method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.Wrap(types.KindParse, err, "decode response")
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return types.Wrap(types.KindInternal, err, "encode request")
		}
	}
	return c.do(ctx, method, path, body, out)
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var h api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WaitReady polls /health/ready with exponential backoff until the node
// answers or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, "/health/ready", nil, nil)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// InjectCDM posts raw CDM JSON so the node does the parsing and validation.
func (c *Client) InjectCDM(ctx context.Context, raw []byte) (*api.CdmIngestResponse, error) {
	var out api.CdmIngestResponse
	if err := c.do(ctx, http.MethodPost, "/cdm", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCDMs(ctx context.Context) (*api.CdmListResponse, error) {
	var out api.CdmListResponse
	if err := c.do(ctx, http.MethodGet, "/cdms", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCDM(ctx context.Context, id string) (*cdm.Record, error) {
	var out cdm.Record
	if err := c.do(ctx, http.MethodGet, "/cdms/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WithdrawCDM(ctx context.Context, id string, req api.WithdrawCdmRequest) (*api.WithdrawResponse, error) {
	var out api.WithdrawResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/cdms/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListObjects(ctx context.Context) (*api.ObjectListResponse, error) {
	var out api.ObjectListResponse
	if err := c.do(ctx, http.MethodGet, "/objects", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetObject(ctx context.Context, id string) (*cdm.ObjectRecord, error) {
	var out cdm.ObjectRecord
	if err := c.do(ctx, http.MethodGet, "/objects/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPeers(ctx context.Context) (*api.PeerListResponse, error) {
	var out api.PeerListResponse
	if err := c.do(ctx, http.MethodGet, "/peers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddPeer(ctx context.Context, req api.AddPeerRequest) (*api.PeerResponse, error) {
	var out api.PeerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/peers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemovePeer(ctx context.Context, id string) (*api.PeerResponse, error) {
	var out api.PeerResponse
	if err := c.do(ctx, http.MethodDelete, "/peers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AnnounceManeuver(ctx context.Context, req api.ManeuverRequest) (*api.ManeuverResponse, error) {
	var out api.ManeuverResponse
	if err := c.doJSON(ctx, http.MethodPost, "/maneuvers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
