package positionfeed

import (
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"ktmtrack/internal/domain"
)

// DecodeGTFSRT turns a VehiclePositions FeedMessage into records. Entities
// without a vehicle position are ignored. When a vehicle has no timestamp
// the header timestamp is used, then fetchedAt.
func DecodeGTFSRT(data []byte, fetchedAt time.Time) ([]domain.VehicleRecord, error) {
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return nil, fmt.Errorf("unmarshal feed message: %w", err)
	}

	fallback := fetchedAt
	if ts := feed.GetHeader().GetTimestamp(); ts > 0 {
		fallback = time.Unix(int64(ts), 0).UTC()
	}

	records := make([]domain.VehicleRecord, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}

		label := vp.GetVehicle().GetLabel()
		if label == "" {
			label = vp.GetVehicle().GetId()
		}
		if label == "" {
			label = entity.GetId()
		}

		ts := fallback
		if vp.Timestamp != nil {
			ts = time.Unix(int64(vp.GetTimestamp()), 0).UTC()
		}

		pos := vp.GetPosition()
		records = append(records, domain.VehicleRecord{
			TripID:    vp.GetTrip().GetTripId(),
			VehicleID: vp.GetVehicle().GetId(),
			Label:     label,
			Lat:       float64(pos.GetLatitude()),
			Lon:       float64(pos.GetLongitude()),
			Bearing:   float64(pos.GetBearing()),
			SpeedKMH:  mpsToKMH(float64(pos.GetSpeed())),
			Timestamp: ts,
		})
	}

	return records, nil
}
