// Package telemetry implements optional sinks that consume
// EngineeringValue snapshots from a live-data stream and forward them to a
// time-series store, grounded on the teacher's
// internal/datastore/influxdb.go InfluxDBStore.
//
// Unlike the teacher's store, which owns both writes and flux queries over
// a fixed vehicle_telemetry schema, this sink only ever writes: the core's
// non-goal on persistent reporting rules out a query surface, so InfluxSink
// is a pure, optional consumer of the live-data channel.
package telemetry

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/anodyne74/obdcore/core"
)

// Snapshot is one named PID reading at a point in time.
// vehicle.StreamLiveData emits a whole PID->value map per tick
// (vehicle.Snapshot); cmd/obdcli splits each map into one Snapshot per PID.
type Snapshot struct {
	PID   uint16
	Name  string
	Value core.EngineeringValue
}

// InfluxSink writes Snapshots to InfluxDB as they arrive. It never blocks
// the stream producer for longer than one write: WritePoint is the
// blocking client, matching the teacher's use of WriteAPIBlocking.
type InfluxSink struct {
	client   influxdb2.Client
	org      string
	bucket   string
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink connects to InfluxDB and verifies the connection with a
// Ping, as the teacher's NewInfluxDBStore does.
func NewInfluxSink(url, token, org, bucket string) (*InfluxSink, error) {
	client := influxdb2.NewClient(url, token)

	if _, err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: connect to InfluxDB: %w", err)
	}

	return &InfluxSink{
		client:   client,
		org:      org,
		bucket:   bucket,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}, nil
}

// fieldsFor projects an EngineeringValue onto the field set its Kind
// determines, factored out of Write so the mapping is testable without a
// live InfluxDB connection.
func fieldsFor(v core.EngineeringValue) map[string]interface{} {
	fields := map[string]interface{}{}
	switch v.Kind {
	case core.KindScalar:
		fields["scalar"] = v.Scalar
		fields["unit"] = v.Unit
	case core.KindText:
		fields["text"] = v.Text
	case core.KindBitfield:
		fields["bitfield"] = int64(v.Bitfield)
	case core.KindBytes:
		fields["bytes"] = fmt.Sprintf("%x", v.Bytes)
	}
	return fields
}

// Write records one snapshot as a point in the "obd_live_data" measurement,
// tagged by PID name, fielded by the EngineeringValue's Kind-appropriate
// representation.
func (s *InfluxSink) Write(ctx context.Context, snap Snapshot) error {
	point := influxdb2.NewPoint(
		"obd_live_data",
		map[string]string{"pid": snap.Name},
		fieldsFor(snap.Value),
		snap.Value.Timestamp,
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("telemetry: write point: %w", err)
	}
	return nil
}

// Consume drains ch, writing every Snapshot until it closes or ctx is
// cancelled. A write error is reported to errs (if non-nil) but does not
// stop the loop: one bad point must not take down the live-data stream it
// is observing.
func (s *InfluxSink) Consume(ctx context.Context, ch <-chan Snapshot, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Write(ctx, snap); err != nil && errs != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}
	}
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
