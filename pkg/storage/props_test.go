package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	now := time.Now()

	assert.True(t, String("a").Equal(String("a")))
	assert.False(t, String("a").Equal(String("b")))
	assert.True(t, Int(7).Equal(Int(7)))
	assert.False(t, Int(7).Equal(Int(8)))
	assert.True(t, Float(1.5).Equal(Float(1.5)))
	assert.True(t, Date(now).Equal(Date(now)))

	// Kinds never compare equal across each other, even for "equal" payloads.
	assert.False(t, Int(1).Equal(Float(1.0)))
	assert.False(t, String("1").Equal(Int(1)))
}

func TestValueEqualDateInstants(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	instant := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, Date(instant).Equal(Date(instant.In(loc))),
		"dates compare by instant, not location")
}

func TestValueJSONRoundTrip(t *testing.T) {
	values := []Value{
		String("hello"),
		String(""),
		Int(-42),
		Float(3.14159),
		Date(time.Date(2024, 6, 15, 10, 30, 0, 123456789, time.UTC)),
	}

	for _, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, v.Equal(back), "round trip changed %#v into %#v", v, back)
	}
}

func TestValueUnmarshalUnknownKind(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"kind":"blob"}`), &v)
	assert.Error(t, err)
}

func TestBagClone(t *testing.T) {
	bag := Bag{"name": String("alice")}
	clone := bag.Clone()
	clone["name"] = String("bob")

	assert.Equal(t, "alice", bag.GetString("name"))
	assert.Equal(t, "bob", clone.GetString("name"))

	var nilBag Bag
	assert.NotNil(t, nilBag.Clone())
}

func TestBagMerge(t *testing.T) {
	base := Bag{
		"content":   String("likes tea"),
		"certainty": Int(80),
	}
	merged := base.Merge(Bag{
		"certainty": Int(95),
		"source":    String("chat"),
	})

	assert.Equal(t, "likes tea", merged.GetString("content"), "unspecified fields stay")
	assert.Equal(t, int64(95), merged.GetInt("certainty"), "specified fields overwrite")
	assert.Equal(t, "chat", merged.GetString("source"), "new fields appear")

	assert.Equal(t, int64(80), base.GetInt("certainty"), "receiver not modified")
	assert.Equal(t, "", base.GetString("source"))
}

func TestBagAccessors(t *testing.T) {
	now := time.Now().UTC()
	bag := Bag{
		"s": String("x"),
		"i": Int(5),
		"f": Float(2.5),
		"d": Date(now),
	}

	assert.Equal(t, "x", bag.GetString("s"))
	assert.Equal(t, int64(5), bag.GetInt("i"))
	assert.Equal(t, 2.5, bag.GetFloat("f"))
	assert.True(t, now.Equal(bag.GetDate("d")))

	// Missing or wrong-kind fields return zero values.
	assert.Equal(t, "", bag.GetString("missing"))
	assert.Equal(t, int64(0), bag.GetInt("s"))
	assert.True(t, bag.GetDate("i").IsZero())
}
