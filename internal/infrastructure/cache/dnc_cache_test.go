package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dnc-compliance-engine/internal/domain/dnc"
	"github.com/davidleathers/dnc-compliance-engine/internal/infrastructure/config"
)

func newTestCache(t *testing.T, ttl time.Duration) (*DecisionCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewDecisionCache(&config.RedisConfig{URL: mr.Addr()}, ttl, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return cache, mr
}

func TestDecisionCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	orgID := uuid.New()

	entry, err := dnc.NewDNCEntry(orgID, "+15551234567", "manual", "api", uuid.New())
	require.NoError(t, err)

	require.NoError(t, cache.SetDecision(ctx, orgID, "+15551234567", &dnc.CheckResult{OnList: true, Entry: entry}))

	result, err := cache.GetDecision(ctx, orgID, "+15551234567")
	require.NoError(t, err)
	assert.True(t, result.OnList)
	require.NotNil(t, result.Entry)
	assert.Equal(t, "+15551234567", result.Entry.PhoneNumber.String())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestDecisionCache_Miss(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	_, err := cache.GetDecision(context.Background(), uuid.New(), "+15551234567")
	require.Error(t, err)
	assert.IsType(t, ErrCacheKeyNotFound{}, err)
	assert.Equal(t, int64(1), cache.Stats().Misses)
}

func TestDecisionCache_Invalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	orgID := uuid.New()

	require.NoError(t, cache.SetDecision(ctx, orgID, "+15551234567", &dnc.CheckResult{OnList: false}))
	require.NoError(t, cache.Invalidate(ctx, orgID, "+15551234567"))

	_, err := cache.GetDecision(ctx, orgID, "+15551234567")
	assert.Error(t, err)
	assert.Equal(t, int64(1), cache.Stats().Invalidations)
}

func TestDecisionCache_TTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	orgID := uuid.New()

	require.NoError(t, cache.SetDecision(ctx, orgID, "+15551234567", &dnc.CheckResult{OnList: false}))

	mr.FastForward(2 * time.Minute)

	_, err := cache.GetDecision(ctx, orgID, "+15551234567")
	assert.Error(t, err)
}

func TestDecisionCache_OrgIsolation(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	orgA, orgB := uuid.New(), uuid.New()

	require.NoError(t, cache.SetDecision(ctx, orgA, "+15551234567", &dnc.CheckResult{OnList: true}))

	// Same number, different organization: no leakage between tenant lists
	_, err := cache.GetDecision(ctx, orgB, "+15551234567")
	assert.Error(t, err)
}

func TestDecisionCache_KeyHidesPhoneNumber(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	orgID := uuid.New()

	require.NoError(t, cache.SetDecision(ctx, orgID, "+15551234567", &dnc.CheckResult{OnList: true}))

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "15551234567")
	}
}

func TestDecisionCache_Ping(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)

	require.NoError(t, cache.Ping(context.Background()))

	mr.Close()
	assert.Error(t, cache.Ping(context.Background()))
}
