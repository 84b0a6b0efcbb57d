// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/profile.schema.json
var profileSchemaJSON []byte

var compiledProfileSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile.schema.json", bytes.NewReader(profileSchemaJSON)); err != nil {
		panic(fmt.Sprintf("config: embedded profile schema is invalid: %v", err))
	}
	s, err := compiler.Compile("profile.schema.json")
	if err != nil {
		panic(fmt.Sprintf("config: embedded profile schema failed to compile: %v", err))
	}
	compiledProfileSchema = s
}

// ValidationReport aggregates the three validation passes described in
// spec §4.1.
type ValidationReport struct {
	StructuralErrors []string
	FieldErrors      map[string]string
	Warnings         []string
}

// OK reports whether the report contains no hard errors (warnings do not
// fail validation).
func (r *ValidationReport) OK() bool {
	return len(r.StructuralErrors) == 0 && len(r.FieldErrors) == 0
}

// validateStructural runs jsonschema pass 1 over a raw (decoded) document.
func validateStructural(doc map[string]any) []string {
	if err := compiledProfileSchema.Validate(doc); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// validateFields runs pass 2: every present, known key against its
// registered validator. Unknown keys are reported as warnings by the
// caller (load path), not here.
func validateFields(values map[string]any) map[string]string {
	errs := make(map[string]string)
	for name, v := range values {
		meta, ok := Registry[name]
		if !ok {
			continue
		}
		if err := meta.Validate(v); err != nil {
			errs[name] = err.Error()
		}
	}
	return errs
}

// crossFieldCheck is pass 3: global-consistency checks that span more
// than one key (spec §4.1).
func crossFieldCheck(values map[string]any) (errors []string, warnings []string) {
	bp, bpOK := values["broadcastPort"]
	lp, lpOK := values["listenerPort"]
	if bpOK && lpOK {
		bpi, err1 := toInt(bp)
		lpi, err2 := toInt(lp)
		if err1 == nil && err2 == nil && bpi == lpi {
			errors = append(errors, "broadcastPort must differ from listenerPort")
		}
	}

	if bip, ok := values["broadcastIP"].(string); ok {
		if bpi, err := toInt(bp); bpOK && err == nil {
			if bip == "<broadcast>" && bpi < 1024 {
				warnings = append(warnings, "broadcastIP is \"<broadcast>\" with a privileged broadcastPort (<1024); this is unusual but not rejected")
			}
		}
	}

	return errors, warnings
}

// Validate runs all three passes over a decoded profile document and
// returns an aggregated report.
func Validate(doc map[string]any) *ValidationReport {
	report := &ValidationReport{FieldErrors: map[string]string{}}
	report.StructuralErrors = validateStructural(doc)
	report.FieldErrors = validateFields(doc)
	errs, warns := crossFieldCheck(doc)
	report.StructuralErrors = append(report.StructuralErrors, errs...)
	report.Warnings = append(report.Warnings, warns...)
	return report
}

// decodeCanonicalJSON decodes a JSON object into a generic map, the
// representation Validate and the registry operate over.
func decodeCanonicalJSON(raw []byte) (map[string]any, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return normalizeNumbers(doc), nil
}

// normalizeNumbers converts json.Number leaves produced by UseNumber()
// into int or float64 so registry validators (which type-switch on
// concrete Go numeric types) behave the same regardless of whether a
// value came from JSON decoding or was set programmatically.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeNumbers(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = normalizeNumbers(val)
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}
