package models

import (
	"strconv"
	"time"
)

// Role is the capability bitmask a node advertises.
type Role int

const (
	RolePeer   Role = 1
	RoleAPI    Role = 2
	RoleVoting Role = 4
)

func (r Role) Has(flag Role) bool {
	return r&flag != 0
}

// Key is the role bitmask rendered the way stats and time series key it ("3", "7", ...).
func (r Role) Key() string {
	return strconv.Itoa(int(r))
}

// NetworkIdentity is the pair of values that defines the monitored network.
type NetworkIdentity struct {
	NetworkIdentifier  int    `json:"networkIdentifier" bson:"networkIdentifier"`
	GenerationHashSeed string `json:"generationHashSeed" bson:"generationHashSeed"`
}

func (id NetworkIdentity) IsZero() bool {
	return id.NetworkIdentifier == 0 && id.GenerationHashSeed == ""
}

// Matches reports whether the node belongs to the network.
func (id NetworkIdentity) Matches(n *Node) bool {
	if n == nil {
		return false
	}
	return n.NetworkIdentifier == id.NetworkIdentifier &&
		n.NetworkGenerationHashSeed == id.GenerationHashSeed
}

type Node struct {
	// Identity
	PublicKey                 string `json:"publicKey" bson:"publicKey"`
	NetworkIdentifier         int    `json:"networkIdentifier" bson:"networkIdentifier"`
	NetworkGenerationHashSeed string `json:"networkGenerationHashSeed" bson:"networkGenerationHashSeed"`

	Host         string `json:"host" bson:"host"`
	Port         int    `json:"port" bson:"port"`
	FriendlyName string `json:"friendlyName" bson:"friendlyName"`
	Version      int64  `json:"version" bson:"version"`
	Roles        Role   `json:"roles" bson:"roles"`

	// Filled in by enrichment
	PeerStatus     *PeerStatus     `json:"peerStatus,omitempty" bson:"peerStatus,omitempty"`
	APIStatus      *APIStatus      `json:"apiStatus,omitempty" bson:"apiStatus,omitempty"`
	HostDetail     *HostDetail     `json:"hostDetail,omitempty" bson:"hostDetail,omitempty"`
	RewardPrograms []RewardProgram `json:"rewardPrograms" bson:"rewardPrograms"`
	VersionStatus  string          `json:"versionStatus,omitempty" bson:"versionStatus,omitempty"`

	LastAvailable *time.Time `json:"lastAvailable,omitempty" bson:"lastAvailable,omitempty"`
}

type PeerStatus struct {
	IsAvailable     bool      `json:"isAvailable" bson:"isAvailable"`
	LastStatusCheck time.Time `json:"lastStatusCheck" bson:"lastStatusCheck"`
}

type APIStatus struct {
	IsAvailable     bool             `json:"isAvailable" bson:"isAvailable"`
	ChainHeight     uint64           `json:"chainHeight,omitempty" bson:"chainHeight,omitempty"`
	Finalization    *Finalization    `json:"finalization,omitempty" bson:"finalization,omitempty"`
	NodePublicKey   string           `json:"nodePublicKey,omitempty" bson:"nodePublicKey,omitempty"`
	RestVersion     string           `json:"restVersion,omitempty" bson:"restVersion,omitempty"`
	NodeStatus      *NodeStatus      `json:"nodeStatus,omitempty" bson:"nodeStatus,omitempty"`
	IsHTTPSEnabled  bool             `json:"isHttpsEnabled" bson:"isHttpsEnabled"`
	RestGatewayURL  string           `json:"restGatewayUrl,omitempty" bson:"restGatewayUrl,omitempty"`
	WebSocket       *WebSocketStatus `json:"webSocket,omitempty" bson:"webSocket,omitempty"`
	LastStatusCheck time.Time        `json:"lastStatusCheck" bson:"lastStatusCheck"`
}

type Finalization struct {
	Height uint64 `json:"height" bson:"height"`
	Epoch  uint64 `json:"epoch" bson:"epoch"`
	Point  uint64 `json:"point" bson:"point"`
	Hash   string `json:"hash" bson:"hash"`
}

type NodeStatus struct {
	APINode string `json:"apiNode" bson:"apiNode"`
	DB      string `json:"db" bson:"db"`
}

type WebSocketStatus struct {
	IsAvailable bool   `json:"isAvailable" bson:"isAvailable"`
	WSS         bool   `json:"wss" bson:"wss"`
	URL         string `json:"url" bson:"url"`
}

type RewardProgram struct {
	Name   string `json:"name" bson:"name"`
	Passed bool   `json:"passed" bson:"passed"`
}

// Clone returns a deep copy so later pipeline stages never alias an earlier set.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.PeerStatus != nil {
		ps := *n.PeerStatus
		c.PeerStatus = &ps
	}
	if n.APIStatus != nil {
		as := *n.APIStatus
		if as.Finalization != nil {
			f := *as.Finalization
			as.Finalization = &f
		}
		if as.NodeStatus != nil {
			s := *as.NodeStatus
			as.NodeStatus = &s
		}
		if as.WebSocket != nil {
			w := *as.WebSocket
			as.WebSocket = &w
		}
		c.APIStatus = &as
	}
	if n.HostDetail != nil {
		hd := *n.HostDetail
		c.HostDetail = &hd
	}
	if n.RewardPrograms != nil {
		c.RewardPrograms = append([]RewardProgram(nil), n.RewardPrograms...)
	}
	if n.LastAvailable != nil {
		t := *n.LastAvailable
		c.LastAvailable = &t
	}
	return &c
}
