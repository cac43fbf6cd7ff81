package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorLoader(calls *int, err error) AgentConfigLoader {
	return func(ctx context.Context) ([]*AgentDescriptor, error) {
		*calls++
		if err != nil {
			return nil, err
		}
		return []*AgentDescriptor{{AgentID: "agent_abc", SquareAccessToken: "EAAAtoken"}}, nil
	}
}

func TestAgentConfigCacheLoadAndGet(t *testing.T) {
	calls := 0
	cache := NewAgentConfigCache(descriptorLoader(&calls, nil), time.Hour)
	require.NoError(t, cache.Load(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.Count())

	d, ok := cache.Get(context.Background(), "agent_abc")
	require.True(t, ok)
	assert.Equal(t, "EAAAtoken", d.SquareAccessToken)

	_, ok = cache.Get(context.Background(), "agent_zzz")
	assert.False(t, ok)

	// Fresh snapshot is served without another load.
	assert.Equal(t, 1, calls)
}

func TestAgentConfigCacheLoadFailure(t *testing.T) {
	calls := 0
	cache := NewAgentConfigCache(descriptorLoader(&calls, errors.New("bad auth tag")), time.Hour)
	assert.Error(t, cache.Load(context.Background()))
	assert.Equal(t, 0, cache.Count())
	assert.Equal(t, time.Duration(-1), cache.Age())
}

func TestAgentConfigCacheRefreshesWhenStale(t *testing.T) {
	calls := 0
	cache := NewAgentConfigCache(descriptorLoader(&calls, nil), time.Nanosecond)
	require.NoError(t, cache.Load(context.Background()))

	time.Sleep(time.Millisecond)
	_, ok := cache.Get(context.Background(), "agent_abc")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestAgentConfigCacheServesStaleOnRefreshFailure(t *testing.T) {
	calls := 0
	failAfterFirst := func(ctx context.Context) ([]*AgentDescriptor, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("store unavailable")
		}
		return []*AgentDescriptor{{AgentID: "agent_abc"}}, nil
	}
	cache := NewAgentConfigCache(failAfterFirst, time.Nanosecond)
	require.NoError(t, cache.Load(context.Background()))

	time.Sleep(time.Millisecond)
	_, ok := cache.Get(context.Background(), "agent_abc")
	assert.True(t, ok)
}
