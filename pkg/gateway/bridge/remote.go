package bridge

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

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

// ConvertInfo is the bridging service's record of one converted server.
type ConvertInfo struct {
	ServerName string `json:"serverName"`
	URL        string `json:"url"`
	Port       int    `json:"port"`
	Status     string `json:"status"`
}

// convertRequest is the bridging service's conversion payload.
type convertRequest struct {
	ServerName string            `json:"serverName"`
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// RemoteClient talks to an external bridging service that owns the stdio
// subprocesses and exposes them over HTTP.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient creates a client for the bridging service at baseURL.
func NewRemoteClient(baseURL string) *RemoteClient {
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Convert asks the bridging service to stand up an HTTP bridge for the
// server. A 409 means the bridge already runs and is normalized to success
// by fetching the existing record, which keeps conversion idempotent.
func (c *RemoteClient) Convert(ctx context.Context, serverName, command string, args []string, env map[string]string) (*ConvertInfo, error) {
	body, err := json.Marshal(convertRequest{
		ServerName: serverName,
		Command:    command,
		Args:       args,
		Env:        env,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrBridgeUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var info ConvertInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("failed to decode convert response: %w", err)
		}
		return &info, nil
	case http.StatusConflict:
		logger.Infof("Bridge for %q already running, reusing it", serverName)
		return c.Get(ctx, serverName)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: bridging service returned %d: %s",
			gateway.ErrBridgeUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// Get fetches the bridging service's record for one server.
func (c *RemoteClient) Get(ctx context.Context, serverName string) (*ConvertInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/convert/"+url.PathEscape(serverName), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrBridgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: bridging service returned %d for %q",
			gateway.ErrBridgeUnavailable, resp.StatusCode, serverName)
	}
	var info ConvertInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode bridge record: %w", err)
	}
	return &info, nil
}

// List fetches all bridge records.
func (c *RemoteClient) List(ctx context.Context) ([]ConvertInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/convert", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrBridgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: bridging service returned %d", gateway.ErrBridgeUnavailable, resp.StatusCode)
	}
	var infos []ConvertInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("failed to decode bridge list: %w", err)
	}
	return infos, nil
}

// Stop tears down the bridge for one server. A 404 means it is already
// stopped and is not an error.
func (c *RemoteClient) Stop(ctx context.Context, serverName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/convert/"+url.PathEscape(serverName), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrBridgeUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		logger.Debugf("Bridge for %q already stopped", serverName)
		return nil
	default:
		return fmt.Errorf("%w: bridging service returned %d stopping %q",
			gateway.ErrBridgeUnavailable, resp.StatusCode, serverName)
	}
}
