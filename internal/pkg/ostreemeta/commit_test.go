package ostreemeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMajorVersion(t *testing.T) {
	m, ok := MajorVersion("3.0")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), m)

	m, ok = MajorVersion("4.0.1")
	assert.True(t, ok)
	assert.Equal(t, uint64(4), m)

	_, ok = MajorVersion("")
	assert.False(t, ok)
}

func TestIsUserVisible(t *testing.T) {
	assert.False(t, IsUserVisible("3.0", "3.1"))
	assert.True(t, IsUserVisible("3.0", "4.0"))
	assert.False(t, IsUserVisible("4.0", "3.9"))
}

func TestCommitAccessors(t *testing.T) {
	c := &Commit{
		Checksum: "a",
		Metadata: map[string]interface{}{
			MetaKeyVersion:          "3.1",
			MetaKeyCheckpointTarget: "REMOTE:eos/x/next",
			MetaKeySizes: []interface{}{
				[]interface{}{float64(100), float64(200)},
			},
		},
	}
	v, ok := c.Version()
	assert.True(t, ok)
	assert.Equal(t, "3.1", v)

	ct, ok := c.CheckpointTarget()
	assert.True(t, ok)
	assert.Equal(t, "REMOTE:eos/x/next", ct)

	sizes, err := c.Sizes()
	assert.NoError(t, err)
	assert.Equal(t, []ObjectSize{{Archived: 100, Unpacked: 200}}, sizes)

	_, ok = c.EndOfLifeRebase()
	assert.False(t, ok)
}

func TestValidChecksum(t *testing.T) {
	assert.True(t, ValidChecksum("0123456789012345678901234567890123456789012345678901234567890abc"))
	assert.False(t, ValidChecksum("not-a-checksum"))
}
