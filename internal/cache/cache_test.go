package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "text:-5:500", Key("text", -5, 500))
}

func TestMapCache_CopySemantics(t *testing.T) {
	c := NewMapCache(0)

	body := []byte("0  0.0000  0.0000\r\n")
	c.Put("k", body)
	body[0] = 'X'

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, byte('0'), got[0])

	got[0] = 'Y'
	again, _ := c.Get("k")
	assert.Equal(t, byte('0'), again[0])

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMapCache_Eviction(t *testing.T) {
	c := NewMapCache(2)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("a", []byte("3")) // overwrite keeps insertion order
	c.Put("c", []byte("4"))

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, []byte("4"), v)
}
