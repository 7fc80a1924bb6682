package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID    string `mapstructure:"id"`
	Count int    `mapstructure:"count"`
	Inner struct {
		Width float64 `mapstructure:"width"`
	} `mapstructure:"inner"`
}

func TestDecodeMapWeakTypes(t *testing.T) {
	m, err := JSONMap([]byte(`{"id":"a","count":"3","inner":{"width":"12.5"}}`))
	require.NoError(t, err)
	out, err := DecodeMap[sample](m)
	require.NoError(t, err)
	assert.Equal(t, "a", out.ID)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, 12.5, out.Inner.Width)
}

func TestDecodeMapNestedJSONString(t *testing.T) {
	m, err := JSONMap([]byte(`{"id":"a","count":2.0,"inner":"{\"width\":4}"}`))
	require.NoError(t, err)
	out, err := DecodeMap[sample](m)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 4.0, out.Inner.Width)
}

func TestJSONMapRejectsNonObject(t *testing.T) {
	_, err := JSONMap([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = JSONMap([]byte(`null`))
	assert.Error(t, err)
}

func TestReadString(t *testing.T) {
	m := map[string]any{"a": "  x ", "b": "   ", "c": 5}
	s, ok := ReadString(m, "a")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	_, ok = ReadString(m, "b")
	assert.False(t, ok)
	_, ok = ReadString(m, "c")
	assert.False(t, ok)
	_, ok = ReadString(m, "missing")
	assert.False(t, ok)
}
