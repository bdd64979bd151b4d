package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/eos-updater-core/internal/pkg/finder"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

func TestParseOrder(t *testing.T) {
	d, err := Parse([]byte("[Download]\nOrder = main,lan,volume\n"))
	require.NoError(t, err)
	assert.Equal(t, []finder.Kind{finder.Mirror, finder.LAN, finder.Volume}, d.Order)
	assert.Empty(t, d.OverrideURIs)
}

func TestParseOverrideUrisReplacesOrder(t *testing.T) {
	d, err := Parse([]byte("[Download]\nOrder = main\nOverrideUris = https://a.example/repo,https://b.example/repo\n"))
	require.NoError(t, err)
	assert.Nil(t, d.Order)
	assert.Equal(t, []string{"https://a.example/repo", "https://b.example/repo"}, d.OverrideURIs)
}

func TestParseEmptyOrderIsWrongConfiguration(t *testing.T) {
	_, err := Parse([]byte("[Download]\nOrder =\n"))
	require.Error(t, err)
	assert.Equal(t, uerrors.WrongConfiguration, uerrors.Of(err).Kind)
}

func TestParseDuplicateOrderEntryIsWrongConfiguration(t *testing.T) {
	_, err := Parse([]byte("[Download]\nOrder = main,main\n"))
	require.Error(t, err)
	assert.Equal(t, uerrors.WrongConfiguration, uerrors.Of(err).Kind)
}

func TestParseUnknownOrderEntryIsWrongConfiguration(t *testing.T) {
	_, err := Parse([]byte("[Download]\nOrder = main,carrier-pigeon\n"))
	require.Error(t, err)
	assert.Equal(t, uerrors.WrongConfiguration, uerrors.Of(err).Kind)
}

func TestParseMissingSectionIsWrongConfiguration(t *testing.T) {
	_, err := Parse([]byte("[Other]\nKey = value\n"))
	require.Error(t, err)
	assert.Equal(t, uerrors.WrongConfiguration, uerrors.Of(err).Kind)
}
