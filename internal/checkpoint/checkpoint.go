// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint implements rolling crash-recovery snapshots of
// recent filtered samples (spec SPEC_FULL §3.7, §4.11): an optimization,
// not a correctness requirement — the control loop must work correctly
// from a cold, empty checkpoint.
package checkpoint

import (
	"fmt"
	"os"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
	"github.com/linkedin/goavro/v2"
)

const avroSchema = `{
  "type": "record",
  "name": "FilteredSample",
  "fields": [
    {"name": "channel_id", "type": "int"},
    {"name": "timestamp_unix_nano", "type": "long"},
    {"name": "value", "type": "double"},
    {"name": "filtered_value", "type": "double"},
    {"name": "gain", "type": "double"},
    {"name": "group_delay", "type": "double"}
  ]
}`

// Store maintains, per channel, a bounded ring of recent FilteredSamples
// and periodically flushes it to an Avro OCF file on disk.
type Store struct {
	path  string
	depth int
	codec *goavro.Codec

	ring map[int][]schema.FilteredSample
}

// Open prepares a Store writing checkpoints to path with the given
// per-channel ring depth.
func Open(path string, depth int) (*Store, error) {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: build codec: %w", err)
	}
	return &Store{path: path, depth: depth, codec: codec, ring: make(map[int][]schema.FilteredSample)}, nil
}

// Record appends one filtered sample to its channel's in-memory ring.
func (s *Store) Record(fs schema.FilteredSample) {
	ring := s.ring[fs.ChannelID]
	ring = append(ring, fs)
	if len(ring) > s.depth {
		ring = ring[len(ring)-s.depth:]
	}
	s.ring[fs.ChannelID] = ring
}

// Flush writes the current in-memory rings to path as a fresh Avro OCF
// file, replacing any prior checkpoint.
func (s *Store) Flush() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("checkpoint: create %q: %w", s.path, err)
	}
	defer f.Close()

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           s.codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: new OCF writer: %w", err)
	}

	records := make([]any, 0)
	for _, ring := range s.ring {
		for _, fs := range ring {
			records = append(records, map[string]any{
				"channel_id":          fs.ChannelID,
				"timestamp_unix_nano": fs.Timestamp.UnixNano(),
				"value":               fs.Value,
				"filtered_value":      fs.FilteredValue,
				"gain":                fs.Gain,
				"group_delay":         fs.GroupDelay,
			})
		}
	}
	if len(records) == 0 {
		return nil
	}
	return writer.Append(records)
}

// Load reads back a previously written checkpoint, if present. A missing
// file is not an error: the checkpoint is an optimization, and the
// control loop must run correctly from cold (spec §3.7).
func Load(path string) (map[int][]schema.FilteredSample, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[int][]schema.FilteredSample{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %q: %w", path, err)
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: new OCF reader: %w", err)
	}

	out := make(map[int][]schema.FilteredSample)
	for reader.Scan() {
		rec, err := reader.Read()
		if err != nil {
			log.Warnf("checkpoint: skipping unreadable record in %q: %v", path, err)
			continue
		}
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		chID, _ := m["channel_id"].(int32)
		tsNano, _ := m["timestamp_unix_nano"].(int64)
		value, _ := m["value"].(float64)
		filtered, _ := m["filtered_value"].(float64)
		gain, _ := m["gain"].(float64)
		groupDelay, _ := m["group_delay"].(float64)

		fs := schema.FilteredSample{
			Sample: schema.Sample{
				Timestamp: time.Unix(0, tsNano),
				ChannelID: int(chID),
				Value:     value,
			},
			FilteredValue: filtered,
			Gain:          gain,
			GroupDelay:    groupDelay,
		}
		out[int(chID)] = append(out[int(chID)], fs)
	}
	return out, nil
}

// RunPeriodicFlush flushes the store every interval until stop is
// closed. This must run on the maintenance scheduler, never the
// hard-real-time path (spec §5, SPEC_FULL §4.11).
func (s *Store) RunPeriodicFlush(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				log.Warnf("checkpoint: periodic flush failed: %v", err)
			}
		}
	}
}
