package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
)

func TestSelectLatestEmpty(t *testing.T) {
	assert.Nil(t, SelectLatest(nil, []finder.Kind{finder.Mirror, finder.LAN}))
}

func TestSelectLatestPicksNewestTimestampThenOrder(t *testing.T) {
	mirror := &UpdateInfo{SourceKind: finder.Mirror, Commit: &ostreemeta.Commit{Timestamp: 100}}
	lan := &UpdateInfo{SourceKind: finder.LAN, Commit: &ostreemeta.Commit{Timestamp: 200}}
	volume := &UpdateInfo{SourceKind: finder.Volume, Commit: &ostreemeta.Commit{Timestamp: 200}}

	got := SelectLatest([]*UpdateInfo{mirror, lan, volume}, []finder.Kind{finder.Mirror, finder.LAN, finder.Volume})
	assert.Same(t, lan, got)
}

func TestSelectLatestOrderPrefersEarlierKindWithinTiedGroup(t *testing.T) {
	lan := &UpdateInfo{SourceKind: finder.LAN, Commit: &ostreemeta.Commit{Timestamp: 200}}
	volume := &UpdateInfo{SourceKind: finder.Volume, Commit: &ostreemeta.Commit{Timestamp: 200}}

	got := SelectLatest([]*UpdateInfo{lan, volume}, []finder.Kind{finder.Volume, finder.LAN})
	assert.Same(t, volume, got)
}

func TestSelectLatestNoMatchInOrderReturnsNil(t *testing.T) {
	mirror := &UpdateInfo{SourceKind: finder.Mirror, Commit: &ostreemeta.Commit{Timestamp: 100}}
	got := SelectLatest([]*UpdateInfo{mirror}, []finder.Kind{finder.LAN})
	assert.Nil(t, got)
}
