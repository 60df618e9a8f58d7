package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAcrossArgOrder(t *testing.T) {
	a := map[string]interface{}{"query": "foo", "strategy": "rapid"}
	b := map[string]interface{}{"strategy": "rapid", "query": "foo"}
	assert.Equal(t, Key("tool", a), Key("tool", b))
}

func TestKeyDiffersByToolName(t *testing.T) {
	args := map[string]interface{}{"query": "foo"}
	assert.NotEqual(t, Key("toolA", args), Key("toolB", args))
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New()
	defer c.Close()

	c.Put("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestGetExpired(t *testing.T) {
	c := New()
	defer c.Close()

	c.Put("k", "v", -time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	c := New()
	defer c.Close()

	c.Put("expired", "v", -time.Second)
	c.Put("fresh", "v", time.Minute)

	pruned := c.Sweep()
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, c.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New()
	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	})
}
