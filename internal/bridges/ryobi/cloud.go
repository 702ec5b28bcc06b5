package ryobi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Cloud API defaults.
const (
	// DefaultAPIURL is the vendor request/response API.
	DefaultAPIURL = "https://tti.tiwiconnect.com/api"

	// DefaultWSURL is the vendor live-session endpoint.
	DefaultWSURL = "wss://tti.tiwiconnect.com/api/wsrpc"

	defaultHTTPTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20

	// deviceTypeOpener marks garage door openers in the device list.
	deviceTypeOpener = "gdoMasterUnit"
)

// CloudConfig holds account credentials for the request/response API.
type CloudConfig struct {
	// BaseURL defaults to DefaultAPIURL.
	BaseURL string

	Username string
	Password string

	// HTTPClient is optional. Default: a client with a 10 second timeout.
	HTTPClient *http.Client
}

// DeviceInfo is one entry of the account device list.
type DeviceInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TypeIDs     []string `json:"type_ids,omitempty"`
}

// CloudClient talks to the vendor request/response API: login, device
// listing and device snapshots.
//
// Thread Safety: All methods are safe for concurrent use.
type CloudClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// Ensure *CloudClient implements SnapshotSource.
var _ SnapshotSource = (*CloudClient)(nil)

// NewCloudClient creates a client for the given account.
func NewCloudClient(cfg CloudConfig) (*CloudClient, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &CloudClient{
		baseURL:    baseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
	}, nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Result struct {
		Auth struct {
			APIKey string `json:"apiKey"`
		} `json:"auth"`
	} `json:"result"`
}

type deviceListResponse struct {
	Result []struct {
		VarName       string   `json:"varName"`
		DeviceTypeIDs []string `json:"deviceTypeIds"`
		MetaData      struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"metaData"`
	} `json:"result"`
}

// Login exchanges the account credentials for an API key.
//
// Returns an error wrapping ErrLoginFailed on a non-200 status or a
// response without a key.
func (c *CloudClient) Login(ctx context.Context) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/login")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLoginFailed, status)
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrLoginFailed, err)
	}
	if resp.Result.Auth.APIKey == "" {
		return "", fmt.Errorf("%w: response has no api key", ErrLoginFailed)
	}
	return resp.Result.Auth.APIKey, nil
}

// ListDevices returns the devices registered to the account.
func (c *CloudClient) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/devices")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list devices: status %d", status)
	}

	var resp deviceListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("list devices: decode response: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(resp.Result))
	for _, d := range resp.Result {
		devices = append(devices, DeviceInfo{
			ID:          d.VarName,
			Name:        d.MetaData.Name,
			Description: d.MetaData.Description,
			TypeIDs:     d.DeviceTypeIDs,
		})
	}
	return devices, nil
}

// ResolveDeviceID returns the first garage door opener on the account.
// Devices that do not list their types are accepted.
func (c *CloudClient) ResolveDeviceID(ctx context.Context) (string, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if len(d.TypeIDs) == 0 || slices.Contains(d.TypeIDs, deviceTypeOpener) {
			return d.ID, nil
		}
	}
	return "", ErrDeviceNotFound
}

// DeviceSnapshot fetches the full document for one device, suitable for
// EntityModel.ReplaceFromSnapshot.
func (c *CloudClient) DeviceSnapshot(ctx context.Context, deviceID string) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/devices/"+deviceID)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	default:
		return nil, fmt.Errorf("device snapshot: status %d", status)
	}
}

// do sends a request carrying the account credentials as a JSON body.
// The API expects them on GET requests too.
func (c *CloudClient) do(ctx context.Context, method, path string) ([]byte, int, error) {
	payload, err := json.Marshal(credentials{Username: c.username, Password: c.password})
	if err != nil {
		return nil, 0, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// PrepareSession completes cfg from the account: it logs in when no API
// key is set and resolves the device when no device ID is set.
func PrepareSession(ctx context.Context, cloud *CloudClient, cfg SessionConfig) (SessionConfig, error) {
	if cfg.Username == "" {
		cfg.Username = cloud.username
	}
	if cfg.APIKey == "" {
		key, err := cloud.Login(ctx)
		if err != nil {
			return cfg, err
		}
		cfg.APIKey = key
	}
	if cfg.DeviceID == "" {
		id, err := cloud.ResolveDeviceID(ctx)
		if err != nil {
			return cfg, err
		}
		cfg.DeviceID = id
	}
	return cfg, nil
}
