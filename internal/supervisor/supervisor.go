// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kaidlee/assistantctl/internal/jsonl"
)

// initRecord is the subset of the subprocess's first record the supervisor
// interprets; everything else is pass-through.
type initRecord struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

// stream is the fused per-StreamID state: process handle, stdin pipe, exit
// signal, and the stop/init bookkeeping. Fusing these into one record
// replaces what would otherwise be several parallel maps.
type stream struct {
	id    string
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// exited is closed exactly once, by waitLoop, the sole caller of
	// cmd.Wait. exec.Cmd.Wait is not safe to call more than once or
	// concurrently, so every other reader of process-exit state (notably
	// shutdownSequence) selects on this channel instead of calling Wait
	// itself.
	exited chan struct{}

	mu         sync.Mutex
	generation int
	stopped    bool
	initSeen   bool
	stderrTail []string
}

const stderrTailLines = 50

// Supervisor owns the set of live subprocesses. The zero value is not
// usable; construct with New.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*stream

	messages chan MessageEvent
	closed   chan ClosedEvent
	errors   chan ErrorEvent

	crashes *crashReporter
}

// New constructs a Supervisor. Callers must drain Messages/Closed/Errors
// continuously — the channels are unbuffered-equivalent in spirit but sized
// modestly so a slow consumer cannot stall a subprocess's own read loop for
// long; see app wiring for the single subscriber that fans these out
// further to the Registry, Fan-out, and Permission Broker.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		streams:  make(map[string]*stream),
		messages: make(chan MessageEvent, 256),
		closed:   make(chan ClosedEvent, 64),
		errors:   make(chan ErrorEvent, 256),
	}
	if cfg.CrashDir != "" {
		s.crashes = newCrashReporter(cfg.CrashDir, cfg.CrashMaxAge, cfg.CrashMaxCount)
	}
	return s
}

// Messages returns the channel of per-line parsed subprocess records.
func (s *Supervisor) Messages() <-chan MessageEvent { return s.messages }

// Closed returns the channel of terminal per-stream exit notifications.
func (s *Supervisor) Closed() <-chan ClosedEvent { return s.closed }

// Errors returns the channel of non-fatal per-stream error notifications.
func (s *Supervisor) Errors() <-chan ErrorEvent { return s.errors }

// SetMCPConfigPath changes the MCP config path used by subsequent starts.
// Purely configurational.
func (s *Supervisor) SetMCPConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MCPConfigPath = path
}

// StartConversation spawns a new subprocess and waits for its init record.
func (s *Supervisor) StartConversation(cfg StartConfig) (string, json.RawMessage, error) {
	return s.spawn(cfg, false)
}

// ResumeConversation spawns a subprocess with a resume selector.
func (s *Supervisor) ResumeConversation(cfg StartConfig) (string, json.RawMessage, error) {
	return s.spawn(cfg, true)
}

func (s *Supervisor) spawn(cfg StartConfig, resume bool) (string, json.RawMessage, error) {
	s.mu.Lock()
	argv := buildArgv(s.cfg, cfg, resume)
	command := s.cfg.Command
	s.mu.Unlock()

	cmd := exec.Command(command, argv...)
	cmd.Dir = cfg.WorkingDirectory
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", nil, &SpawnError{Kind: "spawn_failed", Reason: err.Error()}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, &SpawnError{Kind: "spawn_failed", Reason: err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", nil, &SpawnError{Kind: "spawn_failed", Reason: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		kind := "spawn_failed"
		if errors.Is(err, exec.ErrNotFound) {
			kind = "executable_not_found"
		}
		return "", nil, &SpawnError{Kind: kind, Reason: err.Error()}
	}

	streamID := uuid.New().String()
	st := &stream{id: streamID, cmd: cmd, stdin: stdin, exited: make(chan struct{})}

	s.mu.Lock()
	s.streams[streamID] = st
	s.mu.Unlock()

	initCh := make(chan json.RawMessage, 1)
	earlyExit := make(chan error, 1)

	go s.readLoop(st, stdout, initCh)
	go s.stderrLoop(st, stderr)
	go s.waitLoop(st, earlyExit)

	select {
	case rec := <-initCh:
		return streamID, rec, nil
	case err := <-earlyExit:
		s.forget(streamID)
		reason := "process exited before emitting an init record"
		if err != nil {
			reason = fmt.Sprintf("%s: %v", reason, err)
		}
		return "", nil, &SpawnError{Kind: "spawn_failed", Reason: reason}
	}
}

func (s *Supervisor) readLoop(st *stream, stdout io.Reader, initCh chan<- json.RawMessage) {
	dec := jsonl.NewDecoder(stdout)
	for {
		var raw json.RawMessage
		err := dec.Next(&raw)
		if err == io.EOF {
			return
		}
		if err != nil {
			var pe *jsonl.ParseError
			if errors.As(err, &pe) {
				s.emitError(st.id, fmt.Sprintf("malformed stdout line: %v", pe.Err))
				continue
			}
			s.emitError(st.id, fmt.Sprintf("stdout read error: %v", err))
			return
		}

		st.mu.Lock()
		firstInit := !st.initSeen
		if firstInit {
			var rec initRecord
			if json.Unmarshal(raw, &rec) == nil && rec.Type == "system" && rec.Subtype == "init" {
				st.initSeen = true
			} else {
				firstInit = false
			}
		}
		st.mu.Unlock()

		if firstInit {
			select {
			case initCh <- raw:
			default:
			}
			continue
		}

		select {
		case s.messages <- MessageEvent{StreamID: st.id, Record: raw}:
		default:
			log.Printf("supervisor: dropping message event for stream %s: consumer too slow", st.id)
		}
	}
}

func (s *Supervisor) stderrLoop(st *stream, stderr io.Reader) {
	br := bufio.NewReader(stderr)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			st.mu.Lock()
			st.stderrTail = append(st.stderrTail, line)
			if len(st.stderrTail) > stderrTailLines {
				st.stderrTail = st.stderrTail[len(st.stderrTail)-stderrTailLines:]
			}
			st.mu.Unlock()
			s.emitError(st.id, line)
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) emitError(streamID, reason string) {
	select {
	case s.errors <- ErrorEvent{StreamID: streamID, Reason: reason}:
	default:
		log.Printf("supervisor: dropping error event for stream %s: consumer too slow", streamID)
	}
}

func (s *Supervisor) waitLoop(st *stream, earlyExit chan<- error) {
	err := st.cmd.Wait()
	close(st.exited)

	st.mu.Lock()
	sawInit := st.initSeen
	requestedStop := st.stopped
	tail := append([]string(nil), st.stderrTail...)
	st.mu.Unlock()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if !sawInit {
		select {
		case earlyExit <- err:
		default:
		}
		s.forget(st.id)
		return
	}

	if s.crashes != nil && exitCode != 0 && !requestedStop {
		s.crashes.capture(st.id, exitCode, tail)
	}

	// Unlike message and error events, the closed event is never dropped:
	// it is the one terminal notification per stream.
	s.closed <- ClosedEvent{StreamID: st.id, ExitCode: exitCode}

	s.forget(st.id)
}

func (s *Supervisor) forget(streamID string) {
	s.mu.Lock()
	delete(s.streams, streamID)
	s.mu.Unlock()
}

// StopConversation requests shutdown of streamID. Returns false if the
// stream is unknown (already stopped or never existed). The shutdown is
// staged: close stdin for cooperative termination, wait a short grace, send
// a soft termination signal, wait a hard deadline, then send an
// unconditional kill to the whole process group.
func (s *Supervisor) StopConversation(streamID string) bool {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return false
	}
	st.stopped = true
	st.mu.Unlock()

	go s.shutdownSequence(st)
	return true
}

// shutdownSequence stages termination of st's process. It never calls
// cmd.Wait itself — waitLoop is the sole owner of that call — and instead
// waits on st.exited, which waitLoop closes once Wait returns.
func (s *Supervisor) shutdownSequence(st *stream) {
	if st.stdin != nil {
		_ = st.stdin.Close()
	}

	select {
	case <-st.exited:
		return
	case <-time.After(s.cfg.StopGrace):
	}

	if pgid := processGroupID(st.cmd); pgid != 0 {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}

	select {
	case <-st.exited:
		return
	case <-time.After(s.cfg.StopHardDeadline):
	}

	if pgid := processGroupID(st.cmd); pgid != 0 {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		checkOrphans(pgid)
	}
	<-st.exited
}

func processGroupID(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

// ActiveStreamIDs returns every currently-tracked StreamID.
func (s *Supervisor) ActiveStreamIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}

// IsActive reports whether streamID is currently tracked.
func (s *Supervisor) IsActive(streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[streamID]
	return ok
}

// WriteStdin writes a raw message to the subprocess's stdin. Used both for
// regular conversation turns and for forwarding permission responses to a
// subprocess that reads them from its own stdin control channel.
func (s *Supervisor) WriteStdin(streamID string, data []byte) error {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown stream %s", streamID)
	}
	if st.stdin == nil {
		return fmt.Errorf("supervisor: stream %s has no stdin", streamID)
	}
	data = append(append([]byte(nil), data...), '\n')
	_, err := st.stdin.Write(data)
	return err
}
