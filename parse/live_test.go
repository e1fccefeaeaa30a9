package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiveTrains(t *testing.T) {
	trains, err := ParseLiveTrains([]byte(`[
  {"id": "a1", "number": 66, "name": "Northeast Regional", "railroad": "Amtrak",
   "lat": 40.75, "lon": -73.99, "next_station": " NYP ", "arrival_epoch": 1709312700},
  {"number": 1, "name": "Canadian", "railroad": "VIA", "lat": null, "next_station": "TRTO"}
]`))
	require.NoError(t, err)
	require.Len(t, trains, 2)

	assert.Equal(t, "a1", trains[0].ID)
	assert.Equal(t, 66, trains[0].Number)
	assert.Equal(t, "NYP", trains[0].NextStation)
	assert.Equal(t, int64(1709312700), trains[0].ArrivalEpoch)
	require.True(t, trains[0].Located())
	assert.Equal(t, 40.75, *trains[0].Lat)
	assert.Equal(t, -73.99, *trains[0].Lon)
	assert.False(t, trains[0].Active)

	assert.Equal(t, "VIA-1", trains[1].ID)
	assert.False(t, trains[1].Located())
	assert.Equal(t, "", trains[1].ScheduledArrival)
}

func TestParseLiveTrainsEmptyAndBroken(t *testing.T) {
	trains, err := ParseLiveTrains([]byte(`[]`))
	require.NoError(t, err)
	assert.Len(t, trains, 0)

	_, err = ParseLiveTrains([]byte(`{"trains": []}`))
	assert.Error(t, err)

	_, err = ParseLiveTrains([]byte(`<html>`))
	assert.Error(t, err)
}
