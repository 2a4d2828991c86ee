package control

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ralphd/internal/logging"
)

// Controller owns the loop-facing control state: pause flag, shutdown flag,
// queued skip requests, and injected operator notes. All methods are safe for
// concurrent use; the dashboard enqueues from its own goroutine while the
// loop drains.
type Controller struct {
	queue        *Queue
	pollInterval time.Duration

	mu       sync.Mutex
	paused   bool
	skips    map[string]bool
	notes    []string
	shutdown bool

	shutdownOnce sync.Once
	wake         chan struct{}
}

func NewController(controlDir string, pollInterval time.Duration) *Controller {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Controller{
		queue:        NewQueue(controlDir),
		pollInterval: pollInterval,
		skips:        make(map[string]bool),
		wake:         make(chan struct{}, 1),
	}
}

func (c *Controller) Queue() *Queue { return c.queue }

// ProcessPending drains the command queue and folds each command into the
// controller state. Called at the top of every loop iteration and while
// paused.
func (c *Controller) ProcessPending() error {
	commands, err := c.queue.Drain()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range commands {
		logging.Control("Operator command: %s", cmd.Type)
		switch cmd.Type {
		case CommandPause:
			c.paused = true
		case CommandResume:
			c.paused = false
		case CommandSkipTask:
			c.skips[cmd.TaskID] = true
		case CommandInjectNote:
			c.notes = append(c.notes, cmd.Note)
		}
	}
	return nil
}

// Paused reports whether the loop should hold before the next iteration.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// RequestShutdown flags a cooperative stop. The reentrant guard makes only
// the first call return true so shutdown handling runs at most once.
func (c *Controller) RequestShutdown() bool {
	first := false
	c.shutdownOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.shutdown = true
		c.mu.Unlock()
		c.notifyWake()
	})
	return first
}

// ShutdownRequested reports whether a stop was flagged.
func (c *Controller) ShutdownRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// TakeSkip consumes a pending skip request for the task, if any.
func (c *Controller) TakeSkip(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.skips[taskID] {
		delete(c.skips, taskID)
		return true
	}
	return false
}

// TakeNotes consumes all injected operator notes.
func (c *Controller) TakeNotes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	notes := c.notes
	c.notes = nil
	return notes
}

// WaitWhilePaused blocks until the controller is unpaused, shutdown is
// requested, or the context ends. The queue keeps being drained so a resume
// command takes effect.
func (c *Controller) WaitWhilePaused(ctx context.Context) {
	for c.Paused() && !c.ShutdownRequested() {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-time.After(c.pollInterval):
		}
		if err := c.ProcessPending(); err != nil {
			logging.ControlDebug("Queue drain while paused: %v", err)
		}
	}
}

// Watch runs an fsnotify watcher over the control directory so queued
// commands interrupt a pause wait immediately. Polling in WaitWhilePaused
// remains the fallback when the watcher cannot start.
func (c *Controller) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Control("File watcher unavailable, relying on polling: %v", err)
		return nil
	}
	defer watcher.Close()

	dir := filepath.Dir(c.queue.Path())
	if err := watcher.Add(dir); err != nil {
		logging.Control("Cannot watch %s, relying on polling: %v", dir, err)
		return nil
	}
	logging.ControlDebug("Watching %s", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				c.notifyWake()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.ControlDebug("Watcher error: %v", err)
		}
	}
}

func (c *Controller) notifyWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
