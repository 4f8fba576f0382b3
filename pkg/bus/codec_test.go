package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type codecFixture struct {
	Name string
	N    int
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := JSONCodec{}
	data, err := c.Encode(codecFixture{Name: "a", N: 1})
	require.NoError(t, err)

	var out codecFixture
	require.NoError(t, c.Decode(data, &out))
	require.Equal(t, codecFixture{Name: "a", N: 1}, out)
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	c := BinaryCodec{}
	data, err := c.Encode(codecFixture{Name: "b", N: 2})
	require.NoError(t, err)

	var out codecFixture
	require.NoError(t, c.Decode(data, &out))
	require.Equal(t, codecFixture{Name: "b", N: 2}, out)
}

func TestBinaryCodecRejectsShortFrame(t *testing.T) {
	c := BinaryCodec{}
	err := c.Decode([]byte{0x01, 0x02}, &codecFixture{})
	require.Error(t, err)
}

func TestBinaryCodecRejectsMismatchedLength(t *testing.T) {
	c := BinaryCodec{}
	data, err := c.Encode(codecFixture{Name: "c", N: 3})
	require.NoError(t, err)
	data = append(data, 0xFF) // corrupt: trailing byte not accounted for in prefix

	err = c.Decode(data, &codecFixture{})
	require.Error(t, err)
}

func TestRegistryResolvesByName(t *testing.T) {
	r := NewRegistry()

	c, err := r.Get("json")
	require.NoError(t, err)
	require.Equal(t, "json", c.Name())

	_, err = r.Get("nonexistent")
	require.Error(t, err)
}

func TestSubjectForEmptyKey(t *testing.T) {
	require.Equal(t, "plans.-", subjectFor("plans", ""))
	require.Equal(t, "plans.abc", subjectFor("plans", "abc"))
}

func TestKeyFromSubject(t *testing.T) {
	require.Equal(t, "abc", keyFromSubject("plans", "plans.abc"))
	require.Equal(t, "", keyFromSubject("plans", "other.abc"))
}
