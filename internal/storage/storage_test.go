package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "u1/t1/zone_masked_001.grd", Key("u1", "t1", "zone_masked_001.grd"))
	// Local paths collapse to their base name.
	assert.Equal(t, "u1/t1/zone_masked_001.grd", Key("u1", "t1", "/tmp/engine/task-t1/zone_masked_001.grd"))
}
