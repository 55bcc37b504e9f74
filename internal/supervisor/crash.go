// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	goProcess "github.com/mitchellh/go-ps"
)

// CrashReport captures the context of a subprocess that exited with a
// non-zero code outside of a requested stop.
type CrashReport struct {
	StreamID  string    `json:"streamId"`
	ExitCode  int       `json:"exitCode"`
	Timestamp time.Time `json:"timestamp"`
	Stderr    []string  `json:"stderr"`
}

type crashReporter struct {
	dir      string
	maxAge   time.Duration
	maxCount int
}

func newCrashReporter(dir string, maxAge time.Duration, maxCount int) *crashReporter {
	if maxAge == 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if maxCount == 0 {
		maxCount = 100
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("supervisor: create crash dir %s: %v", dir, err)
	}
	return &crashReporter{dir: dir, maxAge: maxAge, maxCount: maxCount}
}

func (c *crashReporter) capture(streamID string, exitCode int, stderrTail []string) {
	report := CrashReport{
		StreamID:  streamID,
		ExitCode:  exitCode,
		Timestamp: time.Now(),
		Stderr:    stderrTail,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("supervisor: marshal crash report for stream %s: %v", streamID, err)
		return
	}

	name := fmt.Sprintf("%d-%s.json", report.Timestamp.UnixNano(), streamID)
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("supervisor: write crash report %s: %v", path, err)
		return
	}

	c.prune()
}

// prune removes crash reports older than maxAge, then trims by count,
// keeping the most recent maxCount reports. Mirrors the age-then-count
// pruning order the teacher's crash manager uses.
func (c *crashReporter) prune() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	cutoff := time.Now().Add(-c.maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(c.dir, e.Name()))
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	if len(files) > c.maxCount {
		for _, f := range files[c.maxCount:] {
			_ = os.Remove(filepath.Join(c.dir, f.name))
		}
	}
}

// checkOrphans logs a diagnostic if any process remains alive under pgid
// after a hard kill, i.e. the subprocess leaked a child outside its own
// process group visibility. Gives github.com/mitchellh/go-ps a home per
// SPEC_FULL.md's dependency table.
func checkOrphans(pgid int) {
	procs, err := goProcess.Processes()
	if err != nil {
		return
	}
	for _, p := range procs {
		if p.PPid() == pgid {
			log.Printf("supervisor: process %d (%s) outlived parent pgid %d after hard kill", p.Pid(), p.Executable(), pgid)
		}
	}
}
