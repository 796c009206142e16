package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eliquinox/simple-rsm/rpc/common"
)

// ControlClient queries the control endpoints of the members
type ControlClient struct {
	client *http.Client
}

// NewControlClient creates a control client with the given request timeout
func NewControlClient(timeout time.Duration) *ControlClient {
	return &ControlClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     timeout,
			},
		},
	}
}

// Status fetches the status of the member whose control endpoint is host:port
func (c *ControlClient) Status(endpoint string) (common.MemberStatus, error) {
	var status common.MemberStatus
	body, err := c.get(endpoint, "/status")
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return status, fmt.Errorf("invalid status from %s: %w", endpoint, err)
	}
	return status, nil
}

// Metrics fetches the prometheus metrics of the member
func (c *ControlClient) Metrics(endpoint string) (string, error) {
	body, err := c.get(endpoint, "/metrics")
	return string(body), err
}

func (c *ControlClient) get(endpoint, path string) ([]byte, error) {
	resp, err := c.client.Get("http://" + endpoint + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s%s returned %d: %s", endpoint, path, resp.StatusCode, string(body))
	}
	return body, nil
}
