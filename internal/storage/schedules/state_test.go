package schedules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dailyRefresh = InstigatorState{
	Origin: Origin{LocationName: "warehouse", RepositoryName: "main", InstigatorName: "daily_refresh"},
	Type:   Schedule,
	Status: Running,
}

func TestDecodeBothFormats(t *testing.T) {
	current, err := encodeState(dailyRefresh)
	require.NoError(t, err)
	legacy, err := encodeLegacyState(dailyRefresh)
	require.NoError(t, err)
	assert.Contains(t, legacy, `"__class__":"JobState"`)
	assert.Contains(t, legacy, `"repository_location_origin":{"location_name":"warehouse"}`)

	for _, body := range []string{current, legacy} {
		got, err := decodeState(body)
		require.NoError(t, err)
		assert.Equal(t, dailyRefresh, got)
	}
}

func TestDecodeRejectsUnknownClass(t *testing.T) {
	_, err := decodeState(`{"__class__":"TickData"}`)
	assert.Error(t, err)
	_, err = decodeState(`not json`)
	assert.Error(t, err)
}

func TestSelectorID(t *testing.T) {
	id := dailyRefresh.SelectorID()
	assert.Len(t, id, 40)
	assert.Equal(t, id, dailyRefresh.Origin.SelectorID())

	renamed := dailyRefresh.Origin
	renamed.InstigatorName = "hourly_refresh"
	assert.NotEqual(t, id, renamed.SelectorID())

	// The origin id is a different key over the same fields.
	assert.NotEqual(t, id, dailyRefresh.Origin.OriginID())
	assert.NotEqual(t, id, dailyRefresh.Origin.RepositorySelectorID())
}
