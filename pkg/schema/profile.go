// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "fmt"

// ValueKind classifies the shape of a profile key's value (spec §3.1).
type ValueKind int

const (
	Primitive ValueKind = iota
	List
	Map
	Submodule
)

// Validator checks a candidate value for a key and returns a descriptive
// error if it is invalid. Validators must be pure and side-effect free.
type Validator func(value any) error

// KeyMeta is the static, versioned metadata describing one archive key.
// The set of KeyMeta values is a closed registry (internal/config.Keys);
// KeyMeta itself carries no value — schemas are metadata, values are data,
// per the re-implementation note on cyclic profile references (spec §9).
type KeyMeta struct {
	ID         int
	Name       string
	Precedence int
	Kind       ValueKind
	Editable   bool
	Runtime    bool // true: never persisted, re-injected on load
	Validate   Validator
	Default    any
	// ElementOf names the key whose Default is the per-entry shape a List
	// or Map's entries/values must match (spec §3.1: "Lists have
	// per-entry shape identical to the default referenced in their
	// metadata").
	ElementOf string
}

// Common validators, reusable across key definitions.

func ValidatePositiveInt(v any) error {
	n, err := asInt(v)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("value %d is not a positive integer", n)
	}
	return nil
}

func ValidateNonNegativeInt(v any) error {
	n, err := asInt(v)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("value %d is not a non-negative integer", n)
	}
	return nil
}

func ValidatePort(v any) error {
	n, err := asInt(v)
	if err != nil {
		return err
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d is out of range [1,65535]", n)
	}
	return nil
}

func ValidateNormalized(v any) error {
	f, err := asFloat(v)
	if err != nil {
		return err
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("value %f is not normalized to [0,1]", f)
	}
	return nil
}

func ValidateMAC(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("MAC value is not a string")
	}
	if len(s) != 17 {
		return fmt.Errorf("MAC %q is not 17 characters long", s)
	}
	return nil
}

var fanModes = map[string]bool{
	"single": true, "double": true, "fixed": true, "custom": true,
}

func ValidateFanMode(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("fan mode value is not a string")
	}
	if !fanModes[s] {
		return fmt.Errorf("fan mode %q is not a recognized enum value", s)
	}
	return nil
}

func ValidateDutyPercent(v any) error {
	f, err := asFloat(v)
	if err != nil {
		return err
	}
	if f < 0 || f > 100 {
		return fmt.Errorf("duty cycle %f is out of range [0,100]", f)
	}
	return nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("value %v is not an integer", v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not a number", v)
	}
}
