package godiscover

import (
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalQuery(t *testing.T) {
	// ARRANGE
	params := map[string]interface{}{
		"ShortName":           "MOD09GQ",
		"readableGranuleName": []string{"*.hdf"},
		"ProviderID":          "PODAAC",
		"empty":               "",
		"nilValue":            nil,
		"emptyList":           []string{},
		"page_size":           "10",
	}

	// ACT
	canonical := CanonicalQuery(params)

	// ASSERT
	expected := map[string]interface{}{
		"short_name":            "MOD09GQ",
		"readable_granule_name": []string{"*.hdf"},
		"provider_id":           "PODAAC",
		"page_size":             "10",
	}
	assert.Nilf(t, deep.Equal(expected, canonical), "canonical query mismatch: %v", deep.Equal(expected, canonical))
}

func TestCanonicalQueryScrollDropsPageNum(t *testing.T) {
	// ACT
	scrolled := CanonicalQuery(map[string]interface{}{"scroll": true, "pageNum": 3})
	scrolledString := CanonicalQuery(map[string]interface{}{"scroll": "true", "page_num": 3})
	paged := CanonicalQuery(map[string]interface{}{"scroll": false, "page_num": 3})

	// ASSERT
	assert.NotContainsf(t, scrolled, "page_num", "scrolling expected to drop the explicit page number")
	assert.NotContainsf(t, scrolledString, "page_num", "scrolling expected to drop the explicit page number")
	assert.Containsf(t, paged, "page_num", "disabled scrolling expected to keep the explicit page number")
}

func TestCanonicalQueryTemporalNow(t *testing.T) {
	// ARRANGE
	fixed := time.Date(2021, 4, 12, 9, 30, 0, 0, time.UTC)
	restore := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = restore }()

	// ACT
	scalar := CanonicalQuery(map[string]interface{}{"temporal": "2019-01-01T00:00:00Z,NOW"})
	list := CanonicalQuery(map[string]interface{}{"temporal": []string{"now/now"}})

	// ASSERT
	assert.Equalf(t, "2019-01-01T00:00:00Z,2021-04-12T09:30:00Z", scalar["temporal"],
		"temporal now token expected to resolve to the current UTC instant")
	assert.Equalf(t, []string{"2021-04-12T09:30:00Z/2021-04-12T09:30:00Z"}, list["temporal"],
		"repeated now tokens expected to resolve to the identical instant")
}

func TestCanonicalQueryIdempotent(t *testing.T) {
	// ARRANGE
	params := map[string]interface{}{
		"short_name": "MOD09GQ",
		"version":    "006",
		"temporal":   "2019-01-01T00:00:00Z,2020-01-01T00:00:00Z",
	}

	// ACT
	once := CanonicalQuery(params)
	twice := CanonicalQuery(once)

	// ASSERT
	assert.Nilf(t, deep.Equal(once, twice), "canonicalizing a canonical map expected to be a no-op: %v", deep.Equal(once, twice))
}

func TestCanonicalHeaders(t *testing.T) {
	// ACT
	canonical := CanonicalHeaders(map[string]string{
		"client-id":     "discover",
		"authorization": "Bearer token",
		"Empty":         "",
		"":              "nameless",
	})

	// ASSERT
	expected := map[string]string{
		"Client-Id":     "discover",
		"Authorization": "Bearer token",
	}
	assert.Equalf(t, expected, canonical, "canonical headers mismatch")
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"ShortName":           "short_name",
		"readableGranuleName": "readable_granule_name",
		"already_snake":       "already_snake",
		"URL":                 "url",
		"ProviderID":          "provider_id",
		"page2Size":           "page2_size",
	}
	for input, expected := range cases {
		assert.Equalf(t, expected, toSnakeCase(input), "snake case conversion mismatch for %q", input)
	}
}
