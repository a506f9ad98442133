package models

import "time"

// NodesStats is the per-cycle aggregate of the tracked node set.
type NodesStats struct {
	NodeTypes      map[string]int `json:"nodeTypes" bson:"nodeTypes"`
	NodeVersions   map[string]int `json:"nodeVersions" bson:"nodeVersions"`
	RewardPrograms map[string]int `json:"rewardPrograms" bson:"rewardPrograms"`
	Total          int            `json:"total" bson:"total"`
	Available      int            `json:"available" bson:"available"`
	UpdatedAt      time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// HeightCount is the number of nodes that reported a given height.
type HeightCount struct {
	Value uint64 `json:"value" bson:"value"`
	Count int    `json:"count" bson:"count"`
}

// NodeHeightStats groups Api nodes by chain height and finalized height.
type NodeHeightStats struct {
	Height          []HeightCount `json:"height" bson:"height"`
	FinalizedHeight []HeightCount `json:"finalizedHeight" bson:"finalizedHeight"`
	Date            time.Time     `json:"date" bson:"date"`
}

// HostDetail is the geolocation record for a host.
type HostDetail struct {
	Host         string      `json:"host" bson:"host"`
	Coordinates  Coordinates `json:"coordinates" bson:"coordinates"`
	Location     string      `json:"location" bson:"location"`
	IP           string      `json:"ip" bson:"ip"`
	Organization string      `json:"organization,omitempty" bson:"organization,omitempty"`
	AS           string      `json:"as,omitempty" bson:"as,omitempty"`
	Continent    string      `json:"continent,omitempty" bson:"continent,omitempty"`
	Country      string      `json:"country,omitempty" bson:"country,omitempty"`
	Region       string      `json:"region,omitempty" bson:"region,omitempty"`
	City         string      `json:"city,omitempty" bson:"city,omitempty"`
	District     string      `json:"district,omitempty" bson:"district,omitempty"`
	Zip          string      `json:"zip,omitempty" bson:"zip,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}
