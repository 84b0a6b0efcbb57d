// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config implements the Archive: the master's typed, validated,
// versioned configuration profile store (spec §3.1, §4.1). It is
// implemented as an actor (spec §5, §9): a single goroutine owns the
// profile's mutable state and every read or write is a message round
// trip, so there is never a data race on the underlying map and readers
// always observe a fully-committed snapshot.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
)

// LoadResult reports how Load recovered from a partially-invalid
// document (spec §4.1): "load a rescued profile with the faulty fields
// replaced by their default, and report which fields were rescued".
type LoadResult struct {
	RescuedFields []string
	DroppedKeys   []string
	Warnings      []string
}

type request struct {
	op    func(*archiveState) (any, error)
	reply chan response
}

type response struct {
	val any
	err error
}

type archiveState struct {
	values      map[string]any
	lastGood    map[string]any
	dirty       bool
	subscribers []func()
	backend     Backend
	backupDir   string
}

// Archive is the handle client code uses; all methods are safe for
// concurrent use and serialize through the owning actor goroutine.
type Archive struct {
	reqs chan request
	quit chan struct{}
}

// New creates an Archive pre-populated with the registry's default
// values and starts its owning goroutine. backupDir is where local
// (always-available) backups and snapshots are written; an optional
// remote Backend can be attached later with SetRemoteBackend.
func New(backupDir string) *Archive {
	values := make(map[string]any, len(Registry))
	for name, meta := range Registry {
		values[name] = deepCopyValue(meta.Default)
	}

	st := &archiveState{
		values:    values,
		lastGood:  cloneValues(values),
		backend:   newFileBackend(backupDir),
		backupDir: backupDir,
	}

	a := &Archive{
		reqs: make(chan request),
		quit: make(chan struct{}),
	}
	go a.run(st)
	return a
}

func (a *Archive) run(st *archiveState) {
	for {
		select {
		case req := <-a.reqs:
			val, err := req.op(st)
			req.reply <- response{val: val, err: err}
		case <-a.quit:
			return
		}
	}
}

// Close stops the owning goroutine. Pending requests sent after Close
// will block forever, so callers must ensure no concurrent callers
// remain before calling it.
func (a *Archive) Close() { close(a.quit) }

func (a *Archive) do(op func(*archiveState) (any, error)) (any, error) {
	reply := make(chan response, 1)
	a.reqs <- request{op: op, reply: reply}
	r := <-reply
	return r.val, r.err
}

// Get returns the stored value for key, or its registry default if
// missing, logging a warning in the latter case (spec §4.1).
func (a *Archive) Get(key string) any {
	v, _ := a.do(func(st *archiveState) (any, error) {
		if val, ok := st.values[key]; ok {
			return val, nil
		}
		meta, ok := Registry[key]
		if !ok {
			return nil, nil
		}
		log.Warnf("config: get(%q): no stored value, returning default", key)
		return meta.Default, nil
	})
	return v
}

// Set validates value against key's registered validator, stages it,
// re-runs the cross-field consistency check, and either commits (marking
// the archive dirty and notifying subscribers) or rolls back to the
// value held before the call (spec §4.1, §8 invariants).
func (a *Archive) Set(key string, value any) error {
	_, err := a.do(func(st *archiveState) (any, error) {
		meta, ok := Registry[key]
		if !ok {
			return nil, fmt.Errorf("config: unknown key %q", key)
		}
		if !meta.Editable {
			return nil, fmt.Errorf("config: key %q is not editable", key)
		}
		if err := meta.Validate(value); err != nil {
			return nil, &Error{Kind: ValidationFailed, Err: fmt.Errorf("key %q: %w", key, err)}
		}

		staged := cloneValues(st.values)
		staged[key] = value
		if errs, _ := crossFieldCheck(staged); len(errs) > 0 {
			return nil, &Error{Kind: ValidationFailed, Err: fmt.Errorf("key %q: cross-field check failed: %v", key, errs)}
		}

		st.values = staged
		st.lastGood = cloneValues(staged)
		st.dirty = true
		notify(st)
		return nil, nil
	})
	return err
}

// Add appends value to a List-typed key after validating it against the
// list's element shape (spec §4.1).
func (a *Archive) Add(listKey string, value any) error {
	_, err := a.do(func(st *archiveState) (any, error) {
		meta, ok := Registry[listKey]
		if !ok || meta.Kind != schema.List {
			return nil, fmt.Errorf("config: %q is not a list key", listKey)
		}
		current, _ := st.values[listKey].([]any)
		candidate := append(append([]any{}, current...), value)
		if err := meta.Validate(candidate); err != nil {
			return nil, &Error{Kind: ValidationFailed, Err: err}
		}

		staged := cloneValues(st.values)
		staged[listKey] = candidate
		st.values = staged
		st.lastGood = cloneValues(staged)
		st.dirty = true
		notify(st)
		return nil, nil
	})
	return err
}

// Subscribe registers a callback invoked (in its own goroutine, so a
// slow subscriber never stalls the actor) after every committed
// mutation.
func (a *Archive) Subscribe(cb func()) {
	a.do(func(st *archiveState) (any, error) {
		st.subscribers = append(st.subscribers, cb)
		return nil, nil
	})
}

func notify(st *archiveState) {
	for _, cb := range st.subscribers {
		go cb()
	}
}

// Dirty reports whether the archive has unsaved changes.
func (a *Archive) Dirty() bool {
	v, _ := a.do(func(st *archiveState) (any, error) { return st.dirty, nil })
	return v.(bool)
}

// Snapshot returns an immutable deep copy of every stored value, for
// callers (GUI, logger header) that need a consistent read across many
// keys at once.
func (a *Archive) Snapshot() map[string]any {
	v, _ := a.do(func(st *archiveState) (any, error) { return cloneValues(st.values), nil })
	return v.(map[string]any)
}

// Load deserializes raw bytes (spec §6.3 format) into the archive. Any
// field failing its validator is replaced by its default and reported
// as rescued, rather than failing the whole load (spec §4.1). Unknown
// keys are dropped with a warning.
func (a *Archive) Load(raw []byte) (*LoadResult, error) {
	doc, err := deserialize(raw)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{}
	rescued := make(map[string]any, len(Registry))
	for name, meta := range Registry {
		if meta.Runtime {
			rescued[name] = deepCopyValue(meta.Default)
			continue
		}
		val, present := doc[name]
		if !present {
			rescued[name] = deepCopyValue(meta.Default)
			continue
		}
		if err := meta.Validate(val); err != nil {
			result.RescuedFields = append(result.RescuedFields, name)
			rescued[name] = deepCopyValue(meta.Default)
			log.Warnf("config: load: field %q failed validation (%v), rescued to default", name, err)
			continue
		}
		rescued[name] = val
	}
	for name := range doc {
		if _, known := Registry[name]; !known {
			result.DroppedKeys = append(result.DroppedKeys, name)
			log.Warnf("config: load: dropping unknown key %q", name)
		}
	}

	if errs, warns := crossFieldCheck(rescued); len(errs) > 0 {
		return nil, &Error{Kind: ValidationFailed, Err: fmt.Errorf("cross-field check failed after rescue: %v", errs)}
	} else {
		result.Warnings = append(result.Warnings, warns...)
	}

	a.do(func(st *archiveState) (any, error) {
		st.values = rescued
		st.lastGood = cloneValues(rescued)
		st.dirty = false
		notify(st)
		return nil, nil
	})

	return result, nil
}

// Save writes a deterministic serialization of the current profile to
// path, atomically (spec §4.1, §7).
func (a *Archive) Save(path string) ([]byte, error) {
	v, err := a.do(func(st *archiveState) (any, error) {
		body, err := serialize(st.values)
		if err != nil {
			return nil, newError(EncodingIssue, "serialize: %v", err)
		}
		if err := atomicWriteFile(path, body); err != nil {
			return nil, err
		}
		st.dirty = false
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Backup captures the current state as a timestamped snapshot (spec
// §3.1, §6.3: "<archive>.bak.<unix_seconds>") and, if a remote Backend
// is configured, also pushes it there; remote failures are logged but
// never fail the local backup.
func (a *Archive) Backup(ctx context.Context) (string, error) {
	v, err := a.do(func(st *archiveState) (any, error) {
		body, err := serialize(st.values)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("archive.bak.%d", time.Now().Unix())
		if err := st.backend.Store(ctx, name, body); err != nil {
			log.Warnf("config: backup: local store failed: %v", err)
			return nil, err
		}
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Restore replaces the archive's state with a previously captured
// snapshot, re-validating as a whole and rejecting (leaving current
// state untouched) if the snapshot is invalid.
func (a *Archive) Restore(ctx context.Context, snapshotID string) error {
	_, err := a.do(func(st *archiveState) (any, error) {
		body, err := st.backend.Load(ctx, snapshotID)
		if err != nil {
			return nil, fmt.Errorf("config: restore: load %q: %w", snapshotID, err)
		}
		doc, err := deserialize(body)
		if err != nil {
			return nil, err
		}
		report := Validate(doc)
		if !report.OK() {
			return nil, &Error{Kind: ValidationFailed, Err: fmt.Errorf("restore: snapshot %q fails validation: structural=%v fields=%v", snapshotID, report.StructuralErrors, report.FieldErrors)}
		}
		merged := make(map[string]any, len(Registry))
		for name, meta := range Registry {
			if v, ok := doc[name]; ok {
				merged[name] = v
			} else {
				merged[name] = deepCopyValue(meta.Default)
			}
		}
		st.values = merged
		st.lastGood = cloneValues(merged)
		st.dirty = false
		notify(st)
		return nil, nil
	})
	return err
}

// SetRemoteBackend attaches an optional additional backup target (e.g.
// S3). Local file backups always continue to work independently.
func (a *Archive) SetRemoteBackend(backend Backend) {
	a.do(func(st *archiveState) (any, error) {
		st.backend = &fanoutBackend{local: newFileBackend(st.backupDir), remote: backend}
		return nil, nil
	})
}

func cloneValues(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = deepCopyValue(val)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneValues(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// fanoutBackend stores to both the always-available local file backend
// and an optional remote backend, logging (but not failing on) remote
// errors so an unreachable bucket never blocks a local backup.
type fanoutBackend struct {
	local  *fileBackend
	remote Backend
}

func (b *fanoutBackend) Name() string { return "file+" + b.remote.Name() }

func (b *fanoutBackend) Store(ctx context.Context, name string, data []byte) error {
	if err := b.local.Store(ctx, name, data); err != nil {
		return err
	}
	if err := b.remote.Store(ctx, name, data); err != nil {
		log.Warnf("config: remote backend %q store failed: %v", b.remote.Name(), err)
	}
	return nil
}

func (b *fanoutBackend) List(ctx context.Context) ([]string, error) {
	return b.local.List(ctx)
}

func (b *fanoutBackend) Load(ctx context.Context, name string) ([]byte, error) {
	return b.local.Load(ctx, name)
}
