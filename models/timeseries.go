package models

import "time"

// TimeSeriesPoint is one sample of a series. The same shape is stored in
// the day bucket and in the rolled-up main collection.
type TimeSeriesPoint struct {
	Date   time.Time          `json:"date" bson:"date"`
	Values map[string]float64 `json:"values" bson:"values"`
}

// AggregateMode selects how a finished day bucket is folded into one point.
type AggregateMode string

const (
	AggregateAverage      AggregateMode = "average"
	AggregateAverageRound AggregateMode = "average-round"
	AggregateAccumulate   AggregateMode = "accumulate"
)

// NodeCountSeries is the main + open-day view served by the API.
type NodeCountSeries struct {
	Days  []TimeSeriesPoint `json:"days"`
	Today []TimeSeriesPoint `json:"today"`
}
