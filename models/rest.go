package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexUint64 decodes numbers that nodes serialize either as JSON numbers or
// as decimal strings.
type FlexUint64 uint64

func (f *FlexUint64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = FlexUint64(v)
	return nil
}

// NodeInfoResponse is returned by /node/info and as elements of /node/peers.
type NodeInfoResponse struct {
	Version                   int64  `json:"version"`
	PublicKey                 string `json:"publicKey"`
	NetworkGenerationHashSeed string `json:"networkGenerationHashSeed"`
	Roles                     int    `json:"roles"`
	Port                      int    `json:"port"`
	NetworkIdentifier         int    `json:"networkIdentifier"`
	Host                      string `json:"host"`
	FriendlyName              string `json:"friendlyName"`
	NodePublicKey             string `json:"nodePublicKey,omitempty"`
}

// ToNode converts a descriptor into a bare Node.
func (r NodeInfoResponse) ToNode() Node {
	return Node{
		PublicKey:                 r.PublicKey,
		NetworkIdentifier:         r.NetworkIdentifier,
		NetworkGenerationHashSeed: r.NetworkGenerationHashSeed,
		Host:                      r.Host,
		Port:                      r.Port,
		FriendlyName:              r.FriendlyName,
		Version:                   r.Version,
		Roles:                     Role(r.Roles),
	}
}

// ChainInfoResponse is returned by /chain/info.
type ChainInfoResponse struct {
	Height               FlexUint64 `json:"height"`
	LatestFinalizedBlock struct {
		Height            FlexUint64 `json:"height"`
		FinalizationEpoch uint64     `json:"finalizationEpoch"`
		FinalizationPoint uint64     `json:"finalizationPoint"`
		Hash              string     `json:"hash"`
	} `json:"latestFinalizedBlock"`
}

// ServerInfoResponse is returned by /node/server.
type ServerInfoResponse struct {
	ServerInfo struct {
		RestVersion string `json:"restVersion"`
		SDKVersion  string `json:"sdkVersion"`
	} `json:"serverInfo"`
}

// NodeHealthResponse is returned by /node/health.
type NodeHealthResponse struct {
	Status NodeStatus `json:"status"`
}

// RewardInfoResponse is returned by the reward controller for a node public key.
type RewardInfoResponse struct {
	ID            string `json:"id"`
	RewardProgram string `json:"rewardProgram"`
	Passed        bool   `json:"passed"`
}

// MarshalJSON keeps FlexUint64 numeric on output.
func (f FlexUint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(f))
}
