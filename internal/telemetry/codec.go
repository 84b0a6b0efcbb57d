// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"fmt"
	"time"

	"github.com/fanclub/master/pkg/schema"
	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
)

// EncodeFeedback renders one feedback vector as InfluxDB line protocol, one
// line per slave, tagged by slave index (spec §6.5). This is the payload
// published on FeedbackSubject.
func EncodeFeedback(fv *schema.FeedbackVector, at time.Time) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)

	for i := 0; i < fv.NumSlaves; i++ {
		enc.StartLine("fan_feedback")
		enc.AddTag("slave", fmt.Sprintf("%d", i))
		for fan := 0; fan < fv.MaxFans; fan++ {
			rpm, _ := fv.RPMAt(i, fan)
			dc, _ := fv.DCAt(i, fan)
			enc.AddField(fmt.Sprintf("rpm%d", fan), influx.MustNewValue(float64(rpm)))
			enc.AddField(fmt.Sprintf("dc%d", fan), influx.MustNewValue(float64(dc)))
		}
		enc.EndLine(at)
		if err := enc.Err(); err != nil {
			return nil, fmt.Errorf("telemetry: encode feedback: %w", err)
		}
	}
	return enc.Bytes(), nil
}

// ControlPoint is one decoded per-fan duty-cycle command.
type ControlPoint struct {
	SlaveIndex int
	Fan        int
	DutyCycle  float64
}

// DecodeControl decodes a line-protocol-encoded control message into a
// slave index and per-fan duty cycle map. Unknown measurements are
// ignored, not errors: the bridge is best-effort and must tolerate
// messages from future protocol versions.
func DecodeControl(data []byte) ([]ControlPoint, error) {
	dec := influx.NewDecoderWithBytes(data)
	var out []ControlPoint

	for {
		measurement, err := dec.Measurement()
		if err != nil {
			return nil, fmt.Errorf("telemetry: decode control: %w", err)
		}
		if measurement == nil {
			break
		}
		if string(measurement) != "fan_control" {
			if err := skipLine(dec); err != nil {
				return nil, err
			}
			continue
		}

		slaveIdx := -1
		for {
			key, value, err := dec.NextTag()
			if err != nil {
				return nil, fmt.Errorf("telemetry: decode control tags: %w", err)
			}
			if key == nil {
				break
			}
			if string(key) == "slave" {
				fmt.Sscanf(string(value), "%d", &slaveIdx)
			}
		}

		for {
			key, value, err := dec.NextField()
			if err != nil {
				return nil, fmt.Errorf("telemetry: decode control fields: %w", err)
			}
			if key == nil {
				break
			}
			if value.Kind() != influx.Float {
				continue
			}
			fan := 0
			fmt.Sscanf(string(key), "dc%d", &fan)
			out = append(out, ControlPoint{SlaveIndex: slaveIdx, Fan: fan, DutyCycle: value.FloatV()})
		}

		if _, err := dec.Time(influx.Nanosecond, time.Time{}); err != nil {
			return nil, fmt.Errorf("telemetry: decode control time: %w", err)
		}
	}
	return out, nil
}

func skipLine(dec *influx.Decoder) error {
	for {
		key, _, err := dec.NextTag()
		if err != nil {
			return err
		}
		if key == nil {
			break
		}
	}
	for {
		key, _, err := dec.NextField()
		if err != nil {
			return err
		}
		if key == nil {
			break
		}
	}
	_, err := dec.Time(influx.Nanosecond, time.Time{})
	return err
}
