// Package control is the file-based operator control plane: a pending
// command queue in commands.json consumed at the top of each loop iteration,
// a change watcher, and the whitelisted settings updates the dashboard is
// allowed to make.
package control

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ralphd/internal/fsutil"
)

// CommandType is an operator command name.
type CommandType string

const (
	CommandPause      CommandType = "pause"
	CommandResume     CommandType = "resume"
	CommandSkipTask   CommandType = "skip-task"
	CommandInjectNote CommandType = "inject-note"
)

// Command is one queued operator instruction.
type Command struct {
	Type       CommandType `json:"command"`
	TaskID     string      `json:"task_id,omitempty"` // skip-task target
	Note       string      `json:"note,omitempty"`    // inject-note payload
	EnqueuedAt time.Time   `json:"enqueued_at,omitempty"`
}

// queueFile is the on-disk shape of commands.json.
type queueFile struct {
	Pending []Command `json:"pending"`
}

// Queue manages the pending command list in commands.json. Writers append,
// the loop drains; both sides use whole-file atomic replace.
type Queue struct {
	path string
}

func NewQueue(controlDir string) *Queue {
	return &Queue{path: filepath.Join(controlDir, "commands.json")}
}

func (q *Queue) Path() string { return q.path }

// Enqueue appends a command to the pending queue.
func (q *Queue) Enqueue(cmd Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	qf, err := q.read()
	if err != nil {
		return err
	}
	cmd.EnqueuedAt = time.Now().UTC()
	qf.Pending = append(qf.Pending, cmd)
	return q.write(qf)
}

// Drain returns all pending commands and clears the queue.
func (q *Queue) Drain() ([]Command, error) {
	qf, err := q.read()
	if err != nil {
		return nil, err
	}
	if len(qf.Pending) == 0 {
		return nil, nil
	}

	pending := qf.Pending
	if err := q.write(queueFile{Pending: []Command{}}); err != nil {
		return nil, err
	}
	return pending, nil
}

func validateCommand(cmd Command) error {
	switch cmd.Type {
	case CommandPause, CommandResume:
		return nil
	case CommandSkipTask:
		if cmd.TaskID == "" {
			return fmt.Errorf("skip-task requires a task_id")
		}
		return nil
	case CommandInjectNote:
		if cmd.Note == "" {
			return fmt.Errorf("inject-note requires a note")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}

func (q *Queue) read() (queueFile, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return queueFile{}, nil
		}
		return queueFile{}, fmt.Errorf("failed to read command queue: %w", err)
	}
	var qf queueFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return queueFile{}, fmt.Errorf("failed to parse command queue: %w", err)
	}
	return qf, nil
}

func (q *Queue) write(qf queueFile) error {
	data, err := json.MarshalIndent(qf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal command queue: %w", err)
	}
	return fsutil.WriteFileAtomic(q.path, append(data, '\n'), 0644)
}
