// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"fmt"

	"github.com/fanclub/master/pkg/schema"
)

// defaultSlaveShape lists the fields every defaultSlave / savedSlaves
// entry must carry (spec §3.1: "savedSlaves entries match defaultSlave").
var defaultSlaveShape = map[string]schema.Validator{
	"fanMode":      schema.ValidateFanMode,
	"fanCount":     schema.ValidatePositiveInt,
	"pulsesPerRev": schema.ValidatePositiveInt,
	"targetRPM":    schema.ValidateNonNegativeInt,
	"minDC":        schema.ValidateNormalized,
	"maxDC":        schema.ValidateNormalized,
	"pinout":       validateNonEmptyString,
}

func validateNonEmptyString(v any) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return fmt.Errorf("expected a non-empty string, got %v", v)
	}
	return nil
}

func validateSlaveShape(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("slave entry must be an object")
	}
	for field, validator := range defaultSlaveShape {
		val, present := m[field]
		if !present {
			return fmt.Errorf("slave entry missing required field %q", field)
		}
		if err := validator(val); err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
	}
	return nil
}

func validateSavedSlaves(v any) error {
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("savedSlaves must be a list")
	}
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("savedSlaves[%d]: entry must be an object", i)
		}
		if err := validateSlaveShape(m); err != nil {
			return fmt.Errorf("savedSlaves[%d]: %w", i, err)
		}
		if _, hasMAC := m["mac"]; !hasMAC {
			return fmt.Errorf("savedSlaves[%d]: missing mac", i)
		}
		if err := schema.ValidateMAC(m["mac"]); err != nil {
			return fmt.Errorf("savedSlaves[%d]: %w", i, err)
		}
	}
	return nil
}

func validatePinouts(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("pinouts must be a map")
	}
	for name, entry := range m {
		pair, ok := entry.([]any)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("pinouts[%q] must be a two-element [assignment, inverse] pair", name)
		}
		for _, p := range pair {
			if _, ok := p.(string); !ok {
				return fmt.Errorf("pinouts[%q]: both elements must be strings", name)
			}
		}
	}
	return nil
}

var resolutionBits = map[int]bool{8: true, 12: true, 16: true, 24: true}

func validateResolutionBits(v any) error {
	n, err := toInt(v)
	if err != nil {
		return err
	}
	if !resolutionBits[n] {
		return fmt.Errorf("resolution %d is not one of {8,12,16,24}", n)
	}
	return nil
}

func validateSamplingRate(v any) error {
	n, err := toInt(v)
	if err != nil {
		return err
	}
	if n < 1 || n > 100_000 {
		return fmt.Errorf("sampling rate %d out of range [1,100000]", n)
	}
	return nil
}

func validateChannelCount(v any) error {
	n, err := toInt(v)
	if err != nil {
		return err
	}
	if n < 1 || n > 32 {
		return fmt.Errorf("channel count %d out of range [1,32]", n)
	}
	return nil
}

func validateArchiveKind(v any) error {
	s, ok := v.(string)
	if !ok || (s != "file" && s != "s3") {
		return fmt.Errorf("archive kind must be \"file\" or \"s3\", got %v", v)
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %v", v)
	}
}

func noopValidator(any) error { return nil }

// Registry is the closed, versioned set of known archive keys (spec
// §3.1). Every field stored in a Profile must have an entry here.
var Registry = map[string]*schema.KeyMeta{
	"listenerPort": {
		ID: 1, Name: "listenerPort", Precedence: 10, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePort, Default: 1235,
	},
	"broadcastIP": {
		ID: 2, Name: "broadcastIP", Precedence: 20, Kind: schema.Primitive,
		Editable: true, Validate: validateNonEmptyString, Default: "<broadcast>",
	},
	"broadcastPort": {
		ID: 3, Name: "broadcastPort", Precedence: 30, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePort, Default: 65000,
	},
	"broadcastPeriodMS": {
		ID: 4, Name: "broadcastPeriodMS", Precedence: 40, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 1000,
	},
	"maxTimeouts": {
		ID: 5, Name: "maxTimeouts", Precedence: 50, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 3,
	},
	"maxFans": {
		ID: 6, Name: "maxFans", Precedence: 60, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 21,
	},
	"decimals": {
		ID: 7, Name: "decimals", Precedence: 70, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidateNonNegativeInt, Default: 0,
	},
	"passcode": {
		ID: 8, Name: "passcode", Precedence: 80, Kind: schema.Primitive,
		Editable: true, Validate: validateNonEmptyString, Default: "CT",
	},
	"controlPeriodMS": {
		ID: 9, Name: "controlPeriodMS", Precedence: 90, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 100,
	},
	"autoTuneEnabled": {
		ID: 10, Name: "autoTuneEnabled", Precedence: 100, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: false,
	},
	"samplingRateHz": {
		ID: 11, Name: "samplingRateHz", Precedence: 110, Kind: schema.Primitive,
		Editable: true, Validate: validateSamplingRate, Default: 1000,
	},
	"channels": {
		ID: 12, Name: "channels", Precedence: 120, Kind: schema.Primitive,
		Editable: true, Validate: validateChannelCount, Default: 21,
	},
	"resolutionBits": {
		ID: 13, Name: "resolutionBits", Precedence: 130, Kind: schema.Primitive,
		Editable: true, Validate: validateResolutionBits, Default: 12,
	},
	"defaultSlave": {
		ID: 14, Name: "defaultSlave", Precedence: 140, Kind: schema.Submodule,
		Editable: true, Validate: validateSlaveShape,
		Default: map[string]any{
			"fanMode": "single", "fanCount": 21, "pulsesPerRev": 2,
			"targetRPM": 1500, "minDC": 0.1, "maxDC": 1.0, "pinout": "standard",
		},
	},
	"savedSlaves": {
		ID: 15, Name: "savedSlaves", Precedence: 150, Kind: schema.List,
		Editable: true, Validate: validateSavedSlaves, ElementOf: "defaultSlave",
		Default: []any{},
	},
	"pinouts": {
		ID: 16, Name: "pinouts", Precedence: 160, Kind: schema.Map,
		Editable: true, Validate: validatePinouts,
		Default: map[string]any{
			"standard": []any{"P1,P2,P3,...", "P3,P2,P1,..."},
		},
	},
	"archiveKind": {
		ID: 17, Name: "archiveKind", Precedence: 170, Kind: schema.Primitive,
		Editable: true, Validate: validateArchiveKind, Default: "file",
	},
	"archivePath": {
		ID: 18, Name: "archivePath", Precedence: 171, Kind: schema.Primitive,
		Editable: true, Validate: validateNonEmptyString, Default: "./var/archive",
	},
	"archiveBucket": {
		ID: 19, Name: "archiveBucket", Precedence: 172, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: "",
	},
	"archiveRegion": {
		ID: 20, Name: "archiveRegion", Precedence: 173, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: "",
	},
	"natsAddress": {
		ID: 21, Name: "natsAddress", Precedence: 180, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: "",
	},
	"natsFeedbackSubject": {
		ID: 22, Name: "natsFeedbackSubject", Precedence: 181, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: "fanclub.feedback",
	},
	"natsControlSubject": {
		ID: 23, Name: "natsControlSubject", Precedence: 182, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: "fanclub.control",
	},
	"apiEnabled": {
		ID: 24, Name: "apiEnabled", Precedence: 190, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: false,
	},
	"apiAddr": {
		ID: 25, Name: "apiAddr", Precedence: 191, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: ":8090",
	},
	"apiRequireAuth": {
		ID: 26, Name: "apiRequireAuth", Precedence: 192, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: true,
	},
	"historyDBPath": {
		ID: 27, Name: "historyDBPath", Precedence: 200, Kind: schema.Primitive,
		Editable: true, Validate: validateNonEmptyString, Default: "./var/history.db",
	},
	"historyRetentionDays": {
		ID: 28, Name: "historyRetentionDays", Precedence: 201, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 30,
	},
	"checkpointIntervalS": {
		ID: 29, Name: "checkpointIntervalS", Precedence: 210, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 60,
	},
	"checkpointDepth": {
		ID: 30, Name: "checkpointDepth", Precedence: 211, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidatePositiveInt, Default: 256,
	},
	"checkpointPath": {
		ID: 31, Name: "checkpointPath", Precedence: 212, Kind: schema.Primitive,
		Editable: true, Validate: validateNonEmptyString, Default: "./var/checkpoint.avro",
	},
	"dutyScript": {
		ID: 32, Name: "dutyScript", Precedence: 220, Kind: schema.Primitive,
		Editable: true, Validate: noopValidator, Default: "",
	},
	"autoBackupIntervalMin": {
		ID: 33, Name: "autoBackupIntervalMin", Precedence: 230, Kind: schema.Primitive,
		Editable: true, Validate: schema.ValidateNonNegativeInt, Default: 0,
	},
	// Runtime-only fields: never persisted (spec §3.1 invariant), re-injected on load.
	"platformID": {
		ID: 100, Name: "platformID", Precedence: 900, Kind: schema.Primitive,
		Editable: false, Runtime: true, Validate: noopValidator, Default: "",
	},
	"fcVersion": {
		ID: 101, Name: "fcVersion", Precedence: 901, Kind: schema.Primitive,
		Editable: false, Runtime: true, Validate: noopValidator, Default: "1.0.0",
	},
}

// Version is the archive file format version (spec §6.3).
const Version uint32 = 1

// Magic is the 4-byte file-format magic preceding the version integer.
var Magic = [4]byte{'F', 'C', 'A', 'R'}
