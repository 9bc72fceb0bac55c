package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ ID int64 }

func TestSize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Size())
	require.Equal(t, 7, Pagination{Limit: 7}.Size())
	require.Equal(t, MaxLimit, Pagination{Limit: 10_000}.Size())
}

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	enc, err := EncodeCursor(Cursor{ID: 1851234567890123776})
	require.NoError(t, err)
	require.NotContains(t, enc, "+")
	require.NotContains(t, enc, "/")
	require.NotContains(t, enc, "=")

	c, err := DecodeCursor(enc)
	require.NoError(t, err)
	require.Equal(t, int64(1851234567890123776), c.ID)

	_, err = DecodeCursor("%%%")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	id := func(r *row) int64 { return r.ID }

	info := BuildCursorPageInfo([]*row{{3}, {2}}, 2, id)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)

	info = BuildCursorPageInfo([]*row{{3}, {2}, {1}}, 2, id)
	require.True(t, info.HasMore)
	c, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, int64(2), c.ID)
}
