package session

import (
	"context"
	"testing"
	"time"

	"greenmarket/internal/config"
	"greenmarket/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	store := NewRedisStore(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:session:"})
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	m := NewManager(store, time.Hour)

	token, err := m.Issue(ctx, domain.Identity{StudentID: 42})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:session:"+token))
	assert.Equal(t, time.Hour, mr.TTL("test:session:"+token))

	id, err := m.Resolve(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(42), id.StudentID)

	t.Run("Expires", func(t *testing.T) {
		mr.FastForward(time.Hour + time.Second)
		id, err := m.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, id)
	})

	t.Run("Revoke", func(t *testing.T) {
		token, err := m.Issue(ctx, domain.Identity{IsAdmin: true})
		require.NoError(t, err)
		require.NoError(t, m.Revoke(ctx, token))
		assert.False(t, mr.Exists("test:session:"+token))
	})

	t.Run("ZeroTTLHasNoExpiry", func(t *testing.T) {
		forever := NewManager(store, 0)
		token, err := forever.Issue(ctx, domain.Identity{StudentID: 1})
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), mr.TTL("test:session:"+token))
	})
}

func TestRedisStore_Clear(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("other:key", "kept"))

	store := NewRedisStore(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:session:"})
	defer store.Close()
	m := NewManager(store, time.Hour)

	var tokens []string
	for i := range 250 {
		token, err := m.Issue(ctx, domain.Identity{StudentID: int64(i + 1)})
		require.NoError(t, err)
		tokens = append(tokens, token)
	}

	require.NoError(t, m.RevokeAll(ctx))

	for _, token := range tokens {
		assert.False(t, mr.Exists("test:session:"+token))
	}
	assert.True(t, mr.Exists("other:key"), "keys outside the prefix survive")
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(config.RedisConfig{Addr: mr.Addr()})
	defer store.Close()
	mr.Close()

	_, err := store.Get(context.Background(), "x")
	assert.Error(t, err)
}
