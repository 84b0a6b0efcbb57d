// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// serialize produces the canonical on-disk representation of a profile's
// values: a 4-byte magic, a big-endian uint32 version, then a
// deterministic JSON encoding of the value map (spec §4.1: "same input
// keys produce byte-identical output").
func serialize(values map[string]any) ([]byte, error) {
	persisted := make(map[string]any, len(values))
	for k, v := range values {
		meta, ok := Registry[k]
		if ok && meta.Runtime {
			continue // runtime-only fields are never persisted
		}
		persisted[k] = v
	}

	body, err := marshalDeterministic(persisted)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	if err := binary.Write(&buf, binary.BigEndian, Version); err != nil {
		return nil, err
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// marshalDeterministic encodes a map with sorted keys at every nesting
// level so that repeated encodes of the same logical value are
// byte-identical, regardless of Go map iteration order.
func marshalDeterministic(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeDeterministic(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeDeterministic(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeDeterministic(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeDeterministic(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// deserialize parses the canonical format produced by serialize, returning
// the decoded value map. It returns an *Error tagged Corrupted if the
// magic/version header is wrong, or EncodingIssue if the JSON body cannot
// be parsed.
func deserialize(raw []byte) (map[string]any, error) {
	if len(raw) < 8 {
		return nil, newError(Corrupted, "archive file too short (%d bytes)", len(raw))
	}
	if !bytes.Equal(raw[:4], Magic[:]) {
		return nil, newError(Corrupted, "bad magic bytes %x", raw[:4])
	}
	version := binary.BigEndian.Uint32(raw[4:8])
	if version != Version {
		return nil, newError(Corrupted, "unsupported archive version %d (want %d)", version, Version)
	}

	doc, err := decodeCanonicalJSON(raw[8:])
	if err != nil {
		return nil, newError(EncodingIssue, "decode profile body: %v", err)
	}
	return doc, nil
}

// atomicWriteFile writes data to path by first writing a sibling temp
// file and renaming it into place, so a crash mid-write never leaves a
// truncated archive (spec §7: "archive save is atomic... so partial
// failures leave the previous file intact"). This is plain os/io: no
// library in the corpus offers atomic file replace, and the stdlib
// rename-on-same-filesystem idiom is the correct tool here.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicWriteFile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicWriteFile: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicWriteFile: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicWriteFile: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicWriteFile: rename: %w", err)
	}
	return nil
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func readAll(r io.Reader) ([]byte, error) { return io.ReadAll(r) }
