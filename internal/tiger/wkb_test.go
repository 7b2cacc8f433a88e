package tiger

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x, y + 1}, {x + 1, y + 1}, {x + 1, y}, {x, y}}}
}

func TestEncodeWKB_RoundTrip(t *testing.T) {
	mp := orb.MultiPolygon{square(-80, 25), square(-78, 25)}

	wkb, err := EncodeWKB(mp)
	require.NoError(t, err)
	assert.NotEmpty(t, wkb)

	got, err := DecodeWKB(wkb)
	require.NoError(t, err)
	assert.True(t, mp.Equal(got))
}

func TestEncodeWKB_WithHole(t *testing.T) {
	outer := orb.Ring{{0, 0}, {0, 4}, {4, 4}, {4, 0}, {0, 0}}
	hole := orb.Ring{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}
	mp := orb.MultiPolygon{{outer, hole}}

	wkb, err := EncodeWKB(mp)
	require.NoError(t, err)
	got, err := DecodeWKB(wkb)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 2)
}

func TestEncodeWKB_Empty(t *testing.T) {
	wkb, err := EncodeWKB(nil)
	assert.NoError(t, err)
	assert.Nil(t, wkb)

	mp, err := DecodeWKB(nil)
	assert.NoError(t, err)
	assert.Nil(t, mp)
}

func TestDecodeWKB_Garbage(t *testing.T) {
	_, err := DecodeWKB([]byte{0x01, 0x02})
	assert.Error(t, err)
}
