package positionfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func feedMessage(t *testing.T) []byte {
	t.Helper()
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1700000000),
		},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("e1"),
				Vehicle: &gtfs.VehiclePosition{
					Trip:    &gtfs.TripDescriptor{TripId: proto.String("ets-9021")},
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("v1"), Label: proto.String("ETS 201")},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(3.134),
						Longitude: proto.Float32(101.686),
						Bearing:   proto.Float32(350),
						Speed:     proto.Float32(25),
					},
					Timestamp: proto.Uint64(1700000030),
				},
			},
			{
				Id: proto.String("e2"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle:  &gtfs.VehicleDescriptor{Id: proto.String("v2")},
					Position: &gtfs.Position{Latitude: proto.Float32(4.6), Longitude: proto.Float32(101.07)},
				},
			},
			{Id: proto.String("alert-only")},
		},
	}
	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestDecodeGTFSRT(t *testing.T) {
	records, err := DecodeGTFSRT(feedMessage(t), time.Unix(1, 0))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "ets-9021", first.TripID)
	assert.Equal(t, "ETS 201", first.Label)
	assert.Equal(t, "v1", first.VehicleID)
	assert.InDelta(t, 3.134, first.Lat, 1e-5)
	assert.InDelta(t, 90.0, first.SpeedKMH, 1e-3)
	assert.Equal(t, int64(1700000030), first.Timestamp.Unix())

	second := records[1]
	assert.Empty(t, second.TripID)
	assert.Equal(t, "v2", second.Label, "label falls back to vehicle id")
	assert.Equal(t, int64(1700000000), second.Timestamp.Unix(), "header timestamp used")
}

func TestDecodeGTFSRTGarbage(t *testing.T) {
	_, err := DecodeGTFSRT([]byte{0xff, 0xff, 0xff}, time.Now())
	require.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	body := []byte(`{"data":[
		{"trip":{"tripId":"ic-941"},"position":{"latitude":2.5,"longitude":102.8,"bearing":120,"speed":10},"vehicle":{"id":"25","label":"IC 941"},"timestamp":1700000100},
		{"trip":{"tripId":"ic-942"},"position":{"latitude":1.5,"longitude":103.7},"vehicle":{"id":"26"},"timestamp":"2024-03-01T10:00:00Z"},
		{"trip":{"tripId":""},"position":{"latitude":0,"longitude":0},"vehicle":{"id":"27"},"timestamp":null}
	]}`)
	fetched := time.Unix(42, 0)

	records, err := DecodeJSON(body, fetched)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "IC 941", records[0].Label)
	assert.InDelta(t, 36.0, records[0].SpeedKMH, 1e-9)
	assert.Equal(t, int64(1700000100), records[0].Timestamp.Unix())

	assert.Equal(t, "26", records[1].Label)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), records[1].Timestamp.UTC())

	assert.Equal(t, fetched, records[2].Timestamp)
}

func TestDecodeJSONInvalid(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"data":`), time.Now())
	require.Error(t, err)
}

func TestClientFetch(t *testing.T) {
	proto := feedMessage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rt":
			w.Header().Set("Content-Type", "application/x-protobuf")
			w.Write(proto)
		case "/json":
			w.Write([]byte(`{"data":[{"trip":{"tripId":"t"},"position":{"latitude":1,"longitude":2},"vehicle":{"label":"A"}}]}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	records, err := New(srv.URL+"/rt", FormatGTFSRT).Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = New(srv.URL+"/json", FormatJSON).Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Label)

	_, err = New(srv.URL+"/down", FormatJSON).Fetch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = New(srv.URL+"/json", Format("xml")).Fetch(ctx)
	require.Error(t, err)
}
