// Package contexts holds the shared context data the agent attaches to every
// event it emits.
package contexts

import (
	"fmt"
	"maps"

	"github.com/mitchellh/copystructure"
	"go.opentelemetry.io/collector/pdata/pcommon"
)

// Bucket names.
const (
	BucketUser    = "user"
	BucketCustom  = "custom"
	BucketTags    = "tags"
	BucketEnv     = "env"
	BucketCookies = "cookies"
)

// attributePrefix maps a bucket to the attribute namespace it is stamped under.
var attributePrefix = map[string]string{
	BucketUser:    "user.",
	BucketCustom:  "custom.",
	BucketTags:    "labels.",
	BucketEnv:     "env.",
	BucketCookies: "cookies.",
}

// Fragments are the raw inputs a Collection is built from.
type Fragments struct {
	User    map[string]any
	Custom  map[string]any
	Tags    map[string]string
	Env     map[string]any
	Cookies map[string]string
}

// Collection is an immutable set of context buckets. The zero value is an
// empty collection.
type Collection struct {
	user    map[string]any
	custom  map[string]any
	tags    map[string]string
	env     map[string]any
	cookies map[string]string
}

// New builds a Collection from fragments. Every fragment is deep-copied so
// later changes by the caller are not observed.
func New(f Fragments) (*Collection, error) {
	user, err := deepCopy(f.User)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s context: %w", BucketUser, err)
	}
	custom, err := deepCopy(f.Custom)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s context: %w", BucketCustom, err)
	}
	env, err := deepCopy(f.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s context: %w", BucketEnv, err)
	}

	return &Collection{
		user:    user,
		custom:  custom,
		tags:    cloneStrings(f.Tags),
		env:     env,
		cookies: cloneStrings(f.Cookies),
	}, nil
}

// User returns a copy of the user bucket.
func (c *Collection) User() map[string]any { return mustCopy(c.user) }

// Custom returns a copy of the custom bucket.
func (c *Collection) Custom() map[string]any { return mustCopy(c.custom) }

// Tags returns a copy of the tags bucket.
func (c *Collection) Tags() map[string]string { return cloneStrings(c.tags) }

// Env returns a copy of the env bucket.
func (c *Collection) Env() map[string]any { return mustCopy(c.env) }

// Cookies returns a copy of the cookies bucket.
func (c *Collection) Cookies() map[string]string { return cloneStrings(c.cookies) }

// Bucket returns a copy of the named bucket as a generic map.
func (c *Collection) Bucket(name string) (map[string]any, bool) {
	switch name {
	case BucketUser:
		return c.User(), true
	case BucketCustom:
		return c.Custom(), true
	case BucketEnv:
		return c.Env(), true
	case BucketTags:
		return widen(c.tags), true
	case BucketCookies:
		return widen(c.cookies), true
	}
	return nil, false
}

// Names lists the bucket names in stamping order.
func Names() []string {
	return []string{BucketUser, BucketCustom, BucketTags, BucketEnv, BucketCookies}
}

// Len returns the total number of entries across all buckets.
func (c *Collection) Len() int {
	return len(c.user) + len(c.custom) + len(c.tags) + len(c.env) + len(c.cookies)
}

// Stamp writes every bucket into attrs, one attribute per entry, under the
// bucket's namespace. Values pdata cannot represent are written as strings.
func (c *Collection) Stamp(attrs pcommon.Map) {
	stampAny(attrs, attributePrefix[BucketUser], c.user)
	stampAny(attrs, attributePrefix[BucketCustom], c.custom)
	stampStrings(attrs, attributePrefix[BucketTags], c.tags)
	stampAny(attrs, attributePrefix[BucketEnv], c.env)
	stampStrings(attrs, attributePrefix[BucketCookies], c.cookies)
}

func stampAny(attrs pcommon.Map, prefix string, values map[string]any) {
	for k, v := range values {
		if err := attrs.PutEmpty(prefix + k).FromRaw(normalize(v)); err != nil {
			attrs.PutStr(prefix+k, fmt.Sprint(v))
		}
	}
}

func stampStrings(attrs pcommon.Map, prefix string, values map[string]string) {
	for k, v := range values {
		attrs.PutStr(prefix+k, v)
	}
}

// normalize converts nested string-keyed maps and slices into the shapes
// pcommon.Value.FromRaw accepts.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]string:
		return widen(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalize(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalize(inner)
		}
		return out
	}
	return v
}

func deepCopy(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	out, err := copystructure.Copy(m)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// mustCopy copies a map that was already copied once at construction, so
// copying it again cannot fail.
func mustCopy(m map[string]any) map[string]any {
	out, err := deepCopy(m)
	if err != nil {
		panic(fmt.Sprintf("contexts: copy of frozen bucket failed: %v", err))
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}

func widen(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
