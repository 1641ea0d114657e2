package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2026, 3, 4, 10, 30, 0, 123, time.UTC)

func TestEncodeDecode(t *testing.T) {
	c, err := Decode(Encode(ts, "tx|with|pipes"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, ts.Equal(c.CreatedAt))
	assert.Equal(t, "tx|with|pipes", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{
		"not base64!!",
		"bm9waXBl", // "nopipe"
		"YWJjfHh5eg", // "abc|xyz"
		"MTIzfA", // "123|"
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestCursorBefore(t *testing.T) {
	c := &Cursor{CreatedAt: ts, ID: "m"}
	assert.True(t, c.Before(ts.Add(-time.Second), "z"))
	assert.False(t, c.Before(ts.Add(time.Second), "a"))
	assert.True(t, c.Before(ts, "a"))
	assert.False(t, c.Before(ts, "m"))
	assert.False(t, c.Before(ts, "z"))

	var none *Cursor
	assert.True(t, none.Before(ts, "anything"))
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit("", 50, 100)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = ParseLimit("500", 50, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	for _, bad := range []string{"0", "-1", "abc"} {
		_, err = ParseLimit(bad, 50, 100)
		assert.Error(t, err, bad)
	}
}

func TestComputePage(t *testing.T) {
	type item struct {
		id string
		at time.Time
	}
	key := func(i item) (time.Time, string) { return i.at, i.id }
	items := []item{{"c", ts}, {"b", ts.Add(-time.Minute)}, {"a", ts.Add(-2 * time.Minute)}}

	page, next, more := ComputePage(items, 2, key)
	assert.Len(t, page, 2)
	assert.True(t, more)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	page, next, more = ComputePage(items, 3, key)
	assert.Len(t, page, 3)
	assert.False(t, more)
	assert.Empty(t, next)
}
