package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nodewatch/models"
	"nodewatch/utils"
)

// RewardsClient asks the reward-program controller about a node's standing.
type RewardsClient struct {
	httpClient  *http.Client
	apiEndpoint string
	timeout     time.Duration
	margin      float64
}

// NewRewardsClient returns nil when no controller endpoint is configured.
func NewRewardsClient(endpoint string, timeout time.Duration, margin float64) *RewardsClient {
	if endpoint == "" {
		return nil
	}
	return &RewardsClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apiEndpoint: strings.TrimRight(endpoint, "/"),
		timeout:     timeout,
		margin:      margin,
	}
}

// GetRewardPrograms returns the programs the node with this main public key
// is enrolled in. A node unknown to the controller has none.
func (rc *RewardsClient) GetRewardPrograms(ctx context.Context, nodePublicKey string) ([]models.RewardProgram, error) {
	if rc == nil {
		return []models.RewardProgram{}, nil
	}

	endpoint := fmt.Sprintf("%s/nodes/nodepublickey/%s", rc.apiEndpoint, url.PathEscape(nodePublicKey))

	info, err := utils.CallWithTimeout(ctx, utils.RaceTimeout(rc.timeout, rc.margin), func(ctx context.Context) (*models.RewardInfoResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating rewards request: %w", err)
		}

		resp, err := rc.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rewards API returned status %d", resp.StatusCode)
		}

		var info models.RewardInfoResponse
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("error decoding rewards response: %w", err)
		}
		return &info, nil
	})
	if err != nil {
		return nil, err
	}

	if info == nil || info.RewardProgram == "" {
		return []models.RewardProgram{}, nil
	}
	return []models.RewardProgram{{Name: info.RewardProgram, Passed: info.Passed}}, nil
}
