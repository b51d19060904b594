// Package gtfsrt renders the registry as a GTFS-Realtime VehiclePositions feed.
package gtfsrt

import (
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/ukydev/vahan-live/internal/models"
)

const (
	Version = "2.0"

	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeJSON     = "application/json"
)

// BuildVehiclePositions builds a full-dataset feed with one entity per
// vehicle. seats is keyed by vehicle id and may be nil.
func BuildVehiclePositions(vehicles []models.Vehicle, seats map[string]models.SeatRecord, now time.Time) *gtfsrtpb.FeedMessage {
	feed := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfsrtpb.FeedEntity, 0, len(vehicles)),
	}
	for _, v := range vehicles {
		vp := &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{
				RouteId: proto.String(v.RouteID),
			},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(v.ID),
				Label: proto.String(v.ID),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(v.Position.Lat)),
				Longitude: proto.Float32(float32(v.Position.Lng)),
				Bearing:   proto.Float32(float32(v.Heading)),
				Speed:     proto.Float32(float32(v.Speed / 3.6)),
			},
		}
		if !v.SampleTime.IsZero() {
			vp.Timestamp = proto.Uint64(uint64(v.SampleTime.Unix()))
		}
		if rec, ok := seats[v.ID]; ok {
			vp.OccupancyStatus = occupancy(rec).Enum()
		}
		feed.Entity = append(feed.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(v.ID),
			Vehicle: vp,
		})
	}
	return feed
}

func occupancy(rec models.SeatRecord) gtfsrtpb.VehiclePosition_OccupancyStatus {
	var capacity, available int
	if rec.Kind == models.SeatTwoTier {
		capacity = rec.Economy.Capacity + rec.Business.Capacity
		available = rec.Economy.Available + rec.Business.Available
	} else {
		capacity = rec.Single.Capacity
		available = rec.Single.Available
	}
	switch {
	case capacity <= 0:
		return gtfsrtpb.VehiclePosition_NO_DATA_AVAILABLE
	case available <= 0:
		return gtfsrtpb.VehiclePosition_FULL
	case available == capacity:
		return gtfsrtpb.VehiclePosition_EMPTY
	case available*4 < capacity:
		return gtfsrtpb.VehiclePosition_FEW_SEATS_AVAILABLE
	default:
		return gtfsrtpb.VehiclePosition_MANY_SEATS_AVAILABLE
	}
}

// Marshal encodes the feed as protobuf, or as JSON when asJSON is set.
// It returns the matching content type.
func Marshal(feed *gtfsrtpb.FeedMessage, asJSON bool) ([]byte, string, error) {
	if asJSON {
		b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(feed)
		return b, ContentTypeJSON, err
	}
	b, err := proto.Marshal(feed)
	return b, ContentTypeProtobuf, err
}
