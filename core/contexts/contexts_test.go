package contexts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
)

func sampleFragments() Fragments {
	return Fragments{
		User:    map[string]any{"id": 42, "email": "ops@example.com"},
		Custom:  map[string]any{"feature": map[string]any{"flag": true}},
		Tags:    map[string]string{"team": "core"},
		Env:     map[string]any{"SERVER_NAME": "web-1"},
		Cookies: map[string]string{"session": "abc"},
	}
}

func TestNewExposesEveryBucket(t *testing.T) {
	c, err := New(sampleFragments())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": 42, "email": "ops@example.com"}, c.User())
	assert.Equal(t, map[string]any{"feature": map[string]any{"flag": true}}, c.Custom())
	assert.Equal(t, map[string]string{"team": "core"}, c.Tags())
	assert.Equal(t, map[string]any{"SERVER_NAME": "web-1"}, c.Env())
	assert.Equal(t, map[string]string{"session": "abc"}, c.Cookies())
	assert.Equal(t, 6, c.Len())
}

func TestEmptyFragments(t *testing.T) {
	c, err := New(Fragments{})
	require.NoError(t, err)

	for _, name := range Names() {
		bucket, ok := c.Bucket(name)
		require.True(t, ok, name)
		assert.NotNil(t, bucket, name)
		assert.Empty(t, bucket, name)
	}
	assert.Zero(t, c.Len())
}

func TestCollectionIsFrozen(t *testing.T) {
	f := sampleFragments()
	c, err := New(f)
	require.NoError(t, err)

	f.User["id"] = 7
	f.Custom["feature"].(map[string]any)["flag"] = false
	f.Tags["team"] = "edge"
	f.Cookies["session"] = "zzz"

	assert.Equal(t, 42, c.User()["id"])
	assert.Equal(t, true, c.Custom()["feature"].(map[string]any)["flag"])
	assert.Equal(t, "core", c.Tags()["team"])
	assert.Equal(t, "abc", c.Cookies()["session"])

	user := c.User()
	user["id"] = 99
	tags := c.Tags()
	tags["team"] = "edge"

	assert.Equal(t, 42, c.User()["id"])
	assert.Equal(t, "core", c.Tags()["team"])
}

func TestBucketLookup(t *testing.T) {
	c, err := New(sampleFragments())
	require.NoError(t, err)

	tags, ok := c.Bucket(BucketTags)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"team": "core"}, tags)

	cookies, ok := c.Bucket(BucketCookies)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"session": "abc"}, cookies)

	_, ok = c.Bucket("request")
	assert.False(t, ok)
}

func TestStamp(t *testing.T) {
	c, err := New(Fragments{
		User:    map[string]any{"id": 42},
		Custom:  map[string]any{"nested": map[string]any{"k": "v"}, "list": []string{"a", "b"}},
		Tags:    map[string]string{"team": "core"},
		Env:     map[string]any{"SERVER_NAME": "web-1"},
		Cookies: map[string]string{"session": "abc"},
	})
	require.NoError(t, err)

	attrs := pcommon.NewMap()
	c.Stamp(attrs)

	assert.Equal(t, 6, attrs.Len())

	v, ok := attrs.Get("user.id")
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int())

	v, ok = attrs.Get("custom.nested")
	require.True(t, ok)
	assert.Equal(t, pcommon.ValueTypeMap, v.Type())
	assert.Equal(t, map[string]any{"k": "v"}, v.Map().AsRaw())

	v, ok = attrs.Get("custom.list")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v.Slice().AsRaw())

	v, ok = attrs.Get("labels.team")
	require.True(t, ok)
	assert.Equal(t, "core", v.Str())

	v, ok = attrs.Get("env.SERVER_NAME")
	require.True(t, ok)
	assert.Equal(t, "web-1", v.Str())

	v, ok = attrs.Get("cookies.session")
	require.True(t, ok)
	assert.Equal(t, "abc", v.Str())
}

func TestStampFallsBackToString(t *testing.T) {
	type point struct{ X, Y int }

	c, err := New(Fragments{Custom: map[string]any{"origin": point{1, 2}}})
	require.NoError(t, err)

	attrs := pcommon.NewMap()
	c.Stamp(attrs)

	v, ok := attrs.Get("custom.origin")
	require.True(t, ok)
	assert.Equal(t, "{1 2}", v.Str())
}
