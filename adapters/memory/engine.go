package memory

import (
	"context"
	"sync"

	"github.com/fngate/fngate/ports"
)

// EngineRun scripts one response of the fake engine keyed by image tag.
type EngineRun struct {
	Result ports.RunResult
	Err    error
	// Hang blocks the run until the context expires, simulating a
	// hung workload.
	Hang bool
}

// Engine is a scriptable in-memory implementation of ports.ContainerEngine.
// Tests preload per-image results; unscripted runs succeed with exit 0 and
// empty output.
type Engine struct {
	mu      sync.Mutex
	runs    map[string]EngineRun
	builds  []ports.BuildSpec
	removed []string
	live    int

	// BuildErr fails every BuildImage call when set.
	BuildErr error

	// DefaultRun is returned for images with no scripted result. Sandbox
	// image tags are derived from generated execution ids, so most tests
	// script the default rather than an exact tag.
	DefaultRun EngineRun
}

// NewEngine creates a fake container engine.
func NewEngine() *Engine {
	return &Engine{runs: map[string]EngineRun{}}
}

// Script registers the result returned when the given image is run.
func (e *Engine) Script(image string, run EngineRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[image] = run
}

// BuildImage records the build spec, failing when BuildErr is set.
func (e *Engine) BuildImage(ctx context.Context, spec ports.BuildSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.BuildErr != nil {
		return e.BuildErr
	}
	e.builds = append(e.builds, spec)
	return nil
}

// Run returns the scripted result for the image.
func (e *Engine) Run(ctx context.Context, spec ports.RunSpec) (ports.RunResult, error) {
	e.mu.Lock()
	run, ok := e.runs[spec.Image]
	if !ok {
		run = e.DefaultRun
	}
	e.live++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.live--
		e.mu.Unlock()
	}()

	if run.Hang {
		<-ctx.Done()
		return ports.RunResult{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return ports.RunResult{}, err
	}
	return run.Result, run.Err
}

// RemoveImage records the removed tag.
func (e *Engine) RemoveImage(ctx context.Context, tag string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, tag)
	return nil
}

// Live returns the number of in-flight runs.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// Builds returns the recorded build specs (for testing).
func (e *Engine) Builds() []ports.BuildSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.BuildSpec{}, e.builds...)
}

// Removed returns the removed image tags (for testing).
func (e *Engine) Removed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.removed...)
}

// Ensure interface compliance.
var _ ports.ContainerEngine = (*Engine)(nil)
