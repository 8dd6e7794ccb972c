// Package hook runs an optional user Lua script that reacts to filter
// status changes.
//
// All Lua execution happens on one worker goroutine; other goroutines hand
// work to it through Do.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

const workQueueSize = 100

// Work is executed on the Lua VM
type Work func(ctx context.Context, L *lua.LState)

// Runtime owns a Lua VM and its single worker.
type Runtime struct {
	L         *lua.LState
	workQueue chan Work

	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a VM with the log and filter modules preloaded. ctl
// may be nil, in which case the filter module is not available.
func NewRuntime(ctl Controller) *Runtime {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)
	if ctl != nil {
		L.PreloadModule("filter", newFilterModule(ctl).loader)
	}

	return &Runtime{
		L:         L,
		workQueue: make(chan Work, workQueueSize),
		closing:   make(chan struct{}),
	}
}

// LoadScript executes a script file. Call before Run.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// LoadString executes script source. Call before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// Do queues work without blocking. It returns false when the runtime is
// closing or the queue is full.
func (r *Runtime) Do(work Work) bool {
	select {
	case <-r.closing:
		return false
	default:
	}

	select {
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// Run executes queued work until ctx is cancelled or Close is called, then
// drains what is left and closes the VM.
func (r *Runtime) Run(ctx context.Context) {
	defer r.L.Close()

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// Close stops accepting work. Run returns after draining.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() { close(r.closing) })
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

func (r *Runtime) executeWork(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx, r.L)
}
