// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package datalog implements the append-only CSV data logger (spec
// §4.7): one row per published feedback vector, with RIP/PAD sentinel
// handling and a bounded writer queue.
package datalog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
)

// ModuleEntry names one logged module for the header table.
type ModuleEntry struct {
	Index int
	Name  string
	MAC   string
}

// HeaderInfo is everything the logger needs to write the multi-line
// header once, at start (spec §4.7).
type HeaderInfo struct {
	Version    string
	Modules    []ModuleEntry
	MaxFans    int
	NumSlaves  int
	DutyScript string
}

type row struct {
	vector *schema.FeedbackVector
	t      time.Duration // seconds since logger start
}

// Logger is the append-only CSV writer (spec §4.7).
type Logger struct {
	file    *os.File
	writer  *bufio.Writer
	queue   chan row
	start   time.Time
	columns int

	done chan struct{}
}

// Start opens path, writes the header, and spawns the writer goroutine.
func Start(path string, info HeaderInfo, queueDepth int) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("datalog: create %q: %w", path, err)
	}
	w := bufio.NewWriter(f)

	start := time.Now()
	if err := writeHeader(w, info, start); err != nil {
		f.Close()
		return nil, fmt.Errorf("datalog: write header: %w", err)
	}

	l := &Logger{
		file:    f,
		writer:  w,
		queue:   make(chan row, queueDepth),
		start:   start,
		columns: 1 + 2*info.NumSlaves*info.MaxFans,
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func writeHeader(w *bufio.Writer, info HeaderInfo, start time.Time) error {
	fmt.Fprintf(w, "# version=%s\n", info.Version)
	fmt.Fprintf(w, "# start=%s\n", start.UTC().Format(time.RFC3339Nano))
	for _, m := range info.Modules {
		fmt.Fprintf(w, "# module,%d,%s,%s\n", m.Index, m.Name, m.MAC)
	}
	fmt.Fprintf(w, "# fan_dims=%d,%d\n", info.NumSlaves, info.MaxFans)
	if info.DutyScript != "" {
		fmt.Fprintf(w, "# script=%s\n", strings.ReplaceAll(info.DutyScript, "\n", "\\n"))
	}

	cols := make([]string, 0, 1+2*info.NumSlaves*info.MaxFans)
	cols = append(cols, "time")
	for s := 0; s < info.NumSlaves; s++ {
		for fan := 0; fan < info.MaxFans; fan++ {
			cols = append(cols, fmt.Sprintf("s%drpm%d", s, fan))
		}
	}
	for s := 0; s < info.NumSlaves; s++ {
		for fan := 0; fan < info.MaxFans; fan++ {
			cols = append(cols, fmt.Sprintf("s%ddc%d", s, fan))
		}
	}
	fmt.Fprintln(w, strings.Join(cols, ","))
	return w.Flush()
}

// Log enqueues a feedback vector for writing; if the writer queue is
// full the row is dropped at once, without blocking (spec §5:
// "block-with-timeout for control commands" governs the control path,
// but the logger itself must never stall the orchestrator tick).
func (l *Logger) Log(fv *schema.FeedbackVector) {
	select {
	case l.queue <- row{vector: fv, t: time.Since(l.start)}:
	default:
		log.Warnf("datalog: writer queue full, dropping row")
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for r := range l.queue {
		l.writeRow(r)
	}
}

func (l *Logger) writeRow(r row) {
	fields := make([]string, 0, l.columns)
	fields = append(fields, strconv.FormatFloat(r.t.Seconds(), 'f', 6, 64))

	for i := 0; i < r.vector.NumSlaves; i++ {
		for fan := 0; fan < r.vector.MaxFans; fan++ {
			v, _ := r.vector.RPMAt(i, fan)
			fields = append(fields, sentinelCell(v))
		}
	}
	for i := 0; i < r.vector.NumSlaves; i++ {
		for fan := 0; fan < r.vector.MaxFans; fan++ {
			v, _ := r.vector.DCAt(i, fan)
			fields = append(fields, sentinelCell(v))
		}
	}

	fmt.Fprintln(l.writer, strings.Join(fields, ","))
}

// sentinelCell renders -666 (RIP) as NaN and everything else, including
// -69 (PAD), as its integer literal (spec §4.7 invariant).
func sentinelCell(v int) string {
	if v == schema.RIP {
		return "NaN"
	}
	return strconv.Itoa(v)
}

// Stop drains the queue, flushes, and closes the file, joining within
// timeout; on timeout the file is closed best-effort (spec §4.7).
func (l *Logger) Stop(timeout time.Duration) {
	close(l.queue)
	select {
	case <-l.done:
	case <-time.After(timeout):
		log.Warnf("datalog: writer did not stop within %s, closing file best-effort", timeout)
	}
	l.writer.Flush()
	l.file.Close()
}
