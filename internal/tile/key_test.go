package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Valid(t *testing.T) {
	tests := []struct {
		key   Key
		valid bool
	}{
		{NewKey("osm", 0, 0, 0), true},
		{NewKey("osm", 0, 1, 0), false},
		{NewKey("osm", 3, 7, 7), true},
		{NewKey("osm", 3, 8, 0), false},
		{NewKey("osm", 3, 0, -1), false},
		{NewKey("osm", -1, 0, 0), false},
		{NewKey("osm", 31, 0, 0), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.key.Valid(), tt.key.String())
	}
}

func TestKey_IsComparable(t *testing.T) {
	m := map[Key]int{NewKey("osm", 3, 1, 2): 1}
	assert.Equal(t, 1, m[NewKey("osm", 3, 1, 2)])
	assert.Equal(t, 0, m[NewKey("other", 3, 1, 2)])
	assert.Equal(t, "osm/3/1/2", NewKey("osm", 3, 1, 2).String())
}
