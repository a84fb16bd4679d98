package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestCursorRoundTrip(t *testing.T) {
	enc, err := EncodeCursor(Cursor{ID: "123"})
	require.NoError(t, err)

	dec, err := DecodeCursor(enc)
	require.NoError(t, err)
	require.Equal(t, "123", dec.ID)

	_, err = DecodeCursor("%%%")
	require.Error(t, err)
}

func TestPaginate(t *testing.T) {
	rows := []*row{{"5"}, {"4"}, {"3"}}

	page, info := Paginate(rows, Pagination{Limit: 2}, func(r *row) string { return r.id })
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "4", cursor.ID)

	page, info = Paginate(rows, Pagination{Limit: 5}, func(r *row) string { return r.id })
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestSize(t *testing.T) {
	require.Equal(t, 10, Pagination{}.Size())
	require.Equal(t, 250, Pagination{Limit: 1000}.Size())
	require.Equal(t, 7, Pagination{Limit: 7}.Size())
}
