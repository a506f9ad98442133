package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"nodewatch/models"
)

func point(date time.Time, values map[string]float64) models.TimeSeriesPoint {
	return models.TimeSeriesPoint{Date: date, Values: values}
}

func newTestSeries(t *testing.T, mode models.AggregateMode) (*TimeSeries, *faultyDatabase) {
	t.Helper()
	db := newFaultyDatabase()
	ts := NewTimeSeries(db, "day", "main", mode, nil)
	ts.clearRetryInterval = time.Millisecond
	require.NoError(t, ts.Init(context.Background()))
	return ts, db
}

func TestPushBeforeInit(t *testing.T) {
	ts := NewTimeSeries(newFaultyDatabase(), "day", "main", models.AggregateAverage, nil)
	err := ts.Push(context.Background(), point(time.Now(), map[string]float64{"total": 1}))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPushSameDayAppendsToBucket(t *testing.T) {
	ctx := context.Background()
	ts, db := newTestSeries(t, models.AggregateAverage)

	day := time.Date(2024, 5, 10, 0, 30, 0, 0, time.UTC)
	require.NoError(t, ts.Push(ctx, point(day, map[string]float64{"total": 1})))
	require.NoError(t, ts.Push(ctx, point(day.Add(23*time.Hour), map[string]float64{"total": 2})))

	days, today, err := ts.Points(ctx)
	require.NoError(t, err)
	assert.Empty(t, days)
	assert.Len(t, today, 2)

	n, _ := db.faulty("day").Count(ctx)
	assert.EqualValues(t, 2, n)
}

func TestDayRollup(t *testing.T) {
	first := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	last := time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC)
	next := time.Date(2024, 5, 11, 0, 5, 0, 0, time.UTC)

	tests := []struct {
		mode models.AggregateMode
		want map[string]float64
	}{
		{models.AggregateAverage, map[string]float64{"total": 2.5, "3": 1}},
		{models.AggregateAverageRound, map[string]float64{"total": 3, "3": 1}},
		{models.AggregateAccumulate, map[string]float64{"total": 5, "3": 2}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			ctx := context.Background()
			ts, db := newTestSeries(t, tt.mode)

			require.NoError(t, ts.Push(ctx, point(first, map[string]float64{"total": 2, "3": 1})))
			require.NoError(t, ts.Push(ctx, point(last, map[string]float64{"total": 3, "3": 1})))
			require.NoError(t, ts.Push(ctx, point(next, map[string]float64{"total": 7})))

			days, today, err := ts.Points(ctx)
			require.NoError(t, err)

			require.Len(t, days, 1)
			assert.True(t, last.Equal(days[0].Date), "rollup is dated by the last point of the day")
			assert.Equal(t, tt.want, days[0].Values)

			require.Len(t, today, 1)
			assert.True(t, next.Equal(today[0].Date))

			stored := decodeAll[models.TimeSeriesPoint](mustFindAll(t, db.faulty("day")))
			require.Len(t, stored, 1)
			assert.Equal(t, 7.0, stored[0].Values["total"])
		})
	}
}

func TestRollupRetriesBucketClear(t *testing.T) {
	ctx := context.Background()
	ts, db := newTestSeries(t, models.AggregateAccumulate)
	day := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, ts.Push(ctx, point(day, map[string]float64{"total": 1})))
	db.faulty("day").deleteFailures = 2
	require.NoError(t, ts.Push(ctx, point(day.AddDate(0, 0, 1), map[string]float64{"total": 4})))

	assert.Equal(t, 3, db.faulty("day").deleteCalls)
	days, today, err := ts.Points(ctx)
	require.NoError(t, err)
	assert.Len(t, days, 1)
	assert.Len(t, today, 1)
}

func TestRollupKeepsBucketWhenMainWriteUnverified(t *testing.T) {
	ctx := context.Background()
	ts, db := newTestSeries(t, models.AggregateAccumulate)
	day := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, ts.Push(ctx, point(day, map[string]float64{"total": 1})))
	db.faulty("main").dropOnInsert = 1

	err := ts.Push(ctx, point(day.AddDate(0, 0, 1), map[string]float64{"total": 4}))
	require.ErrorIs(t, err, ErrReplaceVerification)

	assert.Zero(t, db.faulty("day").deleteCalls)
	_, today, err := ts.Points(ctx)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.True(t, day.Equal(today[0].Date))
}

func TestRollupIsNotRepeatedAfterAbandonedClear(t *testing.T) {
	ts, db := newTestSeries(t, models.AggregateAccumulate)
	day := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	require.NoError(t, ts.Push(context.Background(), point(day, map[string]float64{"total": 1})))

	db.faulty("day").setDeleteErr(errInjected)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := ts.Push(ctx, point(next, map[string]float64{"total": 2}))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	db.faulty("day").setDeleteErr(nil)
	require.NoError(t, ts.Push(context.Background(), point(next.Add(time.Hour), map[string]float64{"total": 3})))

	days, today, err := ts.Points(context.Background())
	require.NoError(t, err)
	require.Len(t, days, 1, "a rolled day is written to the main series once")
	assert.Equal(t, 1.0, days[0].Values["total"])
	require.Len(t, today, 1)
	assert.Equal(t, 3.0, today[0].Values["total"])

	// A fresh instance over the same store skips the uncleared day points.
	reloaded := NewTimeSeries(db, "day", "main", models.AggregateAccumulate, nil)
	require.NoError(t, reloaded.Init(context.Background()))
	_, today, err = reloaded.Points(context.Background())
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.True(t, next.Add(time.Hour).Equal(today[0].Date))
}

func TestPointsServedWhileClearRetries(t *testing.T) {
	ts, db := newTestSeries(t, models.AggregateAccumulate)
	day := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, ts.Push(context.Background(), point(day, map[string]float64{"total": 1})))

	db.faulty("day").setDeleteErr(errInjected)
	ctx, cancel := context.WithCancel(context.Background())
	pushed := make(chan error, 1)
	go func() {
		pushed <- ts.Push(ctx, point(day.AddDate(0, 0, 1), map[string]float64{"total": 2}))
	}()

	require.Eventually(t, func() bool { return db.faulty("day").deletes() >= 2 }, 2*time.Second, time.Millisecond)

	read := make(chan struct{})
	go func() {
		days, today, err := ts.Points(context.Background())
		assert.NoError(t, err)
		assert.Len(t, days, 1)
		assert.Empty(t, today)
		close(read)
	}()

	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("Points blocked behind the bucket clear retry")
	}

	cancel()
	assert.ErrorIs(t, <-pushed, context.Canceled)
}

func TestInitLoadsPersistedBucket(t *testing.T) {
	ctx := context.Background()
	db := newFaultyDatabase()
	day := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, db.faulty("day").InsertMany(ctx, []interface{}{
		point(day.Add(time.Hour), map[string]float64{"total": 2}),
		point(day, map[string]float64{"total": 1}),
	}))

	ts := NewTimeSeries(db, "day", "main", models.AggregateAverage, nil)
	require.NoError(t, ts.Init(ctx))

	_, today, err := ts.Points(ctx)
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.True(t, day.Equal(today[0].Date), "bucket is ordered by date")
}

func TestIsLaterDay(t *testing.T) {
	base := time.Date(2024, 5, 10, 23, 59, 0, 0, time.UTC)
	assert.True(t, isLaterDay(base.Add(2*time.Minute), base))
	assert.False(t, isLaterDay(base.Add(-23*time.Hour), base))
	assert.False(t, isLaterDay(base.AddDate(0, 0, -1), base))

	// Calendar day is taken in UTC regardless of the input zone.
	tokyo := time.FixedZone("JST", 9*3600)
	assert.False(t, isLaterDay(time.Date(2024, 5, 11, 8, 0, 0, 0, tokyo), base))
}

func mustFindAll(t *testing.T, c DocumentCollection) []bson.Raw {
	t.Helper()
	raws, err := c.FindAll(context.Background())
	require.NoError(t, err)
	return raws
}
