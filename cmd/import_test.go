package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack.dev/railtrack/config"
	"railtrack.dev/railtrack/model"
)

func TestSelectSources(t *testing.T) {
	sources := config.Default().Sources

	selected, err := selectSources(sources, []string{"VIA", "amtrak"})
	require.NoError(t, err)
	require.Equal(t, 2, len(selected))
	assert.Equal(t, model.SourceAmtrak, selected[0].Source)
	assert.Equal(t, model.SourceVIA, selected[1].Source)

	_, err = selectSources(sources, []string{"brightline"})
	assert.Error(t, err)

	_, err = selectSources(sources[:1], []string{"via"})
	assert.Error(t, err)
}
