package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-pulse/internal/models"
)

func newTestCacheStore(t *testing.T) (*CacheStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCacheStore(NewRedisCacheFromClient(client), 7*24*time.Hour), mr
}

func TestChartKey(t *testing.T) {
	assert.Equal(t, "chart:user-1:1M", ChartKey("User-1", models.Period1M))
	assert.Equal(t, "leaderboard:YTD", LeaderboardKey(models.PeriodYTD))
}

func TestChartEntryRoundTrip(t *testing.T) {
	store, _ := newTestCacheStore(t)
	ctx := context.Background()

	entry := &models.ChartCacheEntry{
		UserID: "user-1",
		Period: models.Period1M,
		Points: []models.ChartPoint{
			{Timestamp: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), Value: decimal.Zero},
			{Timestamp: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Value: decimal.NewFromFloat(0.1)},
		},
		Return:          decimal.NewFromFloat(0.1),
		ReturnStatus:    models.ReturnOK,
		BenchmarkReturn: decimal.NewFromFloat(0.05),
		BenchmarkStatus: models.ReturnOK,
		GeneratedAt:     time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC),
		SourceWatermark: time.Date(2024, 3, 15, 20, 30, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutChart(ctx, entry))

	got, found, err := store.GetChart(ctx, "user-1", models.Period1M)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.UserID, got.UserID)
	assert.Equal(t, entry.ReturnStatus, got.ReturnStatus)
	assert.True(t, got.Return.Equal(entry.Return))
	assert.True(t, got.SourceWatermark.Equal(entry.SourceWatermark))
	require.Len(t, got.Points, 2)
	assert.True(t, got.Points[1].Value.Equal(decimal.NewFromFloat(0.1)))
}

func TestGetChart_MissingKey(t *testing.T) {
	store, _ := newTestCacheStore(t)

	entry, found, err := store.GetChart(context.Background(), "user-1", models.Period1M)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, entry)
}

func TestGetChart_CorruptEntry(t *testing.T) {
	store, mr := newTestCacheStore(t)
	require.NoError(t, mr.Set(ChartKey("user-1", models.Period1M), "{not json"))

	_, _, err := store.GetChart(context.Background(), "user-1", models.Period1M)
	assert.Error(t, err)
}

func TestLeaderboardRoundTrip(t *testing.T) {
	store, _ := newTestCacheStore(t)
	ctx := context.Background()

	entry := &models.LeaderboardCacheEntry{
		Period: models.Period1Y,
		Rows: []models.LeaderboardRow{
			{Rank: 1, UserID: "user-2", Return: decimal.NewFromFloat(0.42)},
			{Rank: 2, UserID: "user-1", Return: decimal.NewFromFloat(0.07)},
		},
		GeneratedAt: time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutLeaderboard(ctx, entry))

	got, found, err := store.GetLeaderboard(ctx, models.Period1Y)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, 1, got.Rows[0].Rank)
	assert.Equal(t, "user-2", got.Rows[0].UserID)
}

func TestPutChart_SetsSafetyTTL(t *testing.T) {
	store, mr := newTestCacheStore(t)

	require.NoError(t, store.PutChart(context.Background(), &models.ChartCacheEntry{
		UserID: "user-1",
		Period: models.Period1D,
	}))

	ttl := mr.TTL(ChartKey("user-1", models.Period1D))
	assert.Equal(t, 7*24*time.Hour, ttl)
}

func TestChartKeys_FiltersByUser(t *testing.T) {
	store, _ := newTestCacheStore(t)
	ctx := context.Background()

	for _, userID := range []string{"user-1", "user-2"} {
		for _, period := range []models.Period{models.Period1D, models.Period1M} {
			require.NoError(t, store.PutChart(ctx, &models.ChartCacheEntry{UserID: userID, Period: period}))
		}
	}

	all, err := store.ChartKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	one, err := store.ChartKeys(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, one, 2)
}
