package feed

import (
	"time"

	"opentransit-avl/internal/storage"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// MPHToMetersPerSecond converts stored speeds to the unit GTFS-RT expects.
const MPHToMetersPerSecond = 0.44704

// Render builds a FULL_DATASET feed with one entity per vehicle. Vehicles
// are emitted in the order given.
func Render(vehicles []storage.Current, now time.Time) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(GTFSRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(unixSeconds(now)),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(vehicles)),
	}
	for _, v := range vehicles {
		msg.Entity = append(msg.Entity, entity(v))
	}
	return msg
}

func entity(v storage.Current) *gtfs.FeedEntity {
	pos := &gtfs.Position{
		Latitude:  proto.Float32(float32(v.Latitude)),
		Longitude: proto.Float32(float32(v.Longitude)),
	}
	if v.SpeedMPH != 0 {
		pos.Speed = proto.Float32(float32(v.SpeedMPH * MPHToMetersPerSecond))
	}
	if v.Heading != 0 {
		pos.Bearing = proto.Float32(float32(v.Heading))
	}

	vp := &gtfs.VehiclePosition{
		Vehicle: &gtfs.VehicleDescriptor{
			Id:    proto.String(v.VehicleID),
			Label: proto.String(v.VehicleID),
		},
		Position: pos,
	}
	if !v.Timestamp.IsZero() {
		vp.Timestamp = proto.Uint64(unixSeconds(v.Timestamp))
	}

	return &gtfs.FeedEntity{
		Id:      proto.String(v.VehicleID),
		Vehicle: vp,
	}
}

func unixSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

// JSON renders msg in the protobuf JSON mapping for debugging.
func JSON(msg *gtfs.FeedMessage) ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
}

// Text renders msg in protobuf text format for debugging.
func Text(msg *gtfs.FeedMessage) ([]byte, error) {
	return prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
}
