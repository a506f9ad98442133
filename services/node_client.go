package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"nodewatch/config"
	"nodewatch/models"
	"nodewatch/utils"
)

const webSocketPath = "/ws"

// NodeClient speaks the REST protocol exposed by Api nodes. Every call is
// raced against a timer slightly longer than the HTTP client's own timeout.
type NodeClient struct {
	httpClient *http.Client
	wsDialer   *websocket.Dialer
	httpsPort  int
	httpPort   int
	timeout    time.Duration
	margin     float64
}

func NewNodeClient(cfg *config.Config) *NodeClient {
	timeout := cfg.RequestTimeoutDuration()

	return &NodeClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: timeout,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		wsDialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		httpsPort: cfg.Node.APIHTTPSPort,
		httpPort:  cfg.Node.APIHTTPPort,
		timeout:   timeout,
		margin:    cfg.Node.TimeoutMargin,
	}
}

// getJSON performs one GET and decodes the body into out.
func (c *NodeClient) getJSON(ctx context.Context, url string, out interface{}) error {
	_, err := utils.CallWithTimeout(ctx, utils.RaceTimeout(c.timeout, c.margin), func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("http error %d from %s", resp.StatusCode, url)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
		return struct{}{}, nil
	})
	return err
}

// HTTPSBaseURL and HTTPBaseURL build the conventional REST gateway URLs for a host.
func (c *NodeClient) HTTPSBaseURL(host string) string {
	return fmt.Sprintf("https://%s:%d", host, c.httpsPort)
}

func (c *NodeClient) HTTPBaseURL(host string) string {
	return fmt.Sprintf("http://%s:%d", host, c.httpPort)
}

// FallbackBaseURL is used for status calls when neither scheme answered /node/info.
func (c *NodeClient) FallbackBaseURL(host string) string {
	return c.HTTPBaseURL(host)
}

// GetPeers fetches /node/peers from a full base URL (seed nodes).
func (c *NodeClient) GetPeers(ctx context.Context, baseURL string) ([]models.Node, error) {
	var descriptors []models.NodeInfoResponse
	if err := c.getJSON(ctx, strings.TrimRight(baseURL, "/")+"/node/peers", &descriptors); err != nil {
		return nil, err
	}

	nodes := make([]models.Node, 0, len(descriptors))
	for _, d := range descriptors {
		if d.PublicKey == "" {
			continue
		}
		nodes = append(nodes, d.ToNode())
	}
	return nodes, nil
}

// GetHostPeers fetches /node/peers from a node host, HTTPS first then HTTP.
func (c *NodeClient) GetHostPeers(ctx context.Context, host string) ([]models.Node, error) {
	nodes, err := c.GetPeers(ctx, c.HTTPSBaseURL(host))
	if err == nil {
		return nodes, nil
	}
	nodes, httpErr := c.GetPeers(ctx, c.HTTPBaseURL(host))
	if httpErr != nil {
		return nil, errors.Join(err, httpErr)
	}
	return nodes, nil
}

// GetNodeInfo fetches /node/info from a full base URL.
func (c *NodeClient) GetNodeInfo(ctx context.Context, baseURL string) (*models.NodeInfoResponse, error) {
	var info models.NodeInfoResponse
	if err := c.getJSON(ctx, strings.TrimRight(baseURL, "/")+"/node/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LocateNodeInfo fetches /node/info from a host, HTTPS first then HTTP, and
// returns the base URL that answered.
func (c *NodeClient) LocateNodeInfo(ctx context.Context, host string) (*models.NodeInfoResponse, string, error) {
	httpsURL := c.HTTPSBaseURL(host)
	info, err := c.GetNodeInfo(ctx, httpsURL)
	if err == nil {
		return info, httpsURL, nil
	}

	httpURL := c.HTTPBaseURL(host)
	info, httpErr := c.GetNodeInfo(ctx, httpURL)
	if httpErr != nil {
		return nil, "", errors.Join(err, httpErr)
	}
	return info, httpURL, nil
}

func (c *NodeClient) GetChainInfo(ctx context.Context, baseURL string) (*models.ChainInfoResponse, error) {
	var info models.ChainInfoResponse
	if err := c.getJSON(ctx, baseURL+"/chain/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *NodeClient) GetServerInfo(ctx context.Context, baseURL string) (*models.ServerInfoResponse, error) {
	var info models.ServerInfoResponse
	if err := c.getJSON(ctx, baseURL+"/node/server", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *NodeClient) GetNodeHealth(ctx context.Context, baseURL string) (*models.NodeHealthResponse, error) {
	var health models.NodeHealthResponse
	if err := c.getJSON(ctx, baseURL+"/node/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ProbeWebSocket opens and immediately closes a websocket on the node's
// listener path. The scheme follows the REST base URL (wss for https).
func (c *NodeClient) ProbeWebSocket(ctx context.Context, baseURL string) *models.WebSocketStatus {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + webSocketPath
	status := &models.WebSocketStatus{
		WSS: strings.HasPrefix(wsURL, "wss://"),
		URL: wsURL,
	}

	_, err := utils.CallWithTimeout(ctx, utils.RaceTimeout(c.timeout, c.margin), func(ctx context.Context) (struct{}, error) {
		conn, resp, err := c.wsDialer.DialContext(ctx, wsURL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, conn.Close()
	})
	status.IsAvailable = err == nil
	return status
}
