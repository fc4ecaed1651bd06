// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/fngate/fngate/adapters/metrics"
	"github.com/fngate/fngate/domain/execution"
	"github.com/fngate/fngate/ports"
)

// codeFilename is where tenant code lands in the workspace; the run
// command refers to it.
const codeFilename = "index.js"

// requestFilename is the serialized request the tenant code reads.
const requestFilename = "request.json"

// SandboxRunner executes tenant code in isolated containers. Execute never
// returns an error: every failure is encoded in the Result with a fresh
// execution id, so the caller always has something well-formed to report.
type SandboxRunner struct {
	artifacts ports.ArtifactStore
	engine    ports.ContainerEngine
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger
	collector *metrics.Collector
	sem       *semaphore.Weighted
	cfg       SandboxConfig
}

// SandboxConfig carries the static execution policy.
type SandboxConfig struct {
	BaseImage     string
	Command       []string
	WorkspaceRoot string
	Limits        execution.Limits
	FetchTimeout  time.Duration
	BuildTimeout  time.Duration
	MaxConcurrent int64
}

// SandboxDeps contains dependencies for SandboxRunner.
type SandboxDeps struct {
	Artifacts ports.ArtifactStore
	Engine    ports.ContainerEngine
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
	Collector *metrics.Collector
}

// NewSandboxRunner creates a sandbox runner.
func NewSandboxRunner(deps SandboxDeps, cfg SandboxConfig) *SandboxRunner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 60 * time.Second
	}
	if cfg.Limits.Timeout <= 0 {
		cfg.Limits.Timeout = 30 * time.Second
	}
	return &SandboxRunner{
		artifacts: deps.Artifacts,
		engine:    deps.Engine,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger,
		collector: deps.Collector,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:       cfg,
	}
}

// Limits returns the resource ceilings applied to every execution.
func (r *SandboxRunner) Limits() execution.Limits {
	return r.cfg.Limits
}

// Live returns the number of currently running sandbox containers.
func (r *SandboxRunner) Live() int {
	return r.engine.Live()
}

// Execute runs one invocation through the full pipeline: fetch code,
// materialize a workspace, build a layered image, run it with hard limits,
// parse the output. Workspace, image and container are always cleaned up,
// on success and on every failure path.
func (r *SandboxRunner) Execute(ctx context.Context, codeRef string, req execution.Request) execution.Result {
	executionID := r.idGen.New()
	start := r.clock.Now()
	elapsed := func() int64 { return r.clock.Now().Sub(start).Milliseconds() }

	log := r.logger.With().Str("execution_id", executionID).Str("code_ref", codeRef).Logger()

	r.gaugeWaiting(1)
	err := r.sem.Acquire(ctx, 1)
	r.gaugeWaiting(-1)
	if err != nil {
		log.Warn().Err(err).Msg("gave up waiting for sandbox slot")
		return r.fail(executionID, execution.FailureTimeout, "execution queue wait cancelled", "", elapsed())
	}
	defer r.sem.Release(1)
	r.gaugeInFlight(1)
	defer r.gaugeInFlight(-1)

	// Fetch.
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	code, err := r.artifacts.Fetch(fetchCtx, codeRef)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("code fetch failed")
		return r.fail(executionID, execution.FailureFetch, fmt.Sprintf("fetch code: %v", err), "", elapsed())
	}

	// Workspace.
	workspace, err := os.MkdirTemp(r.cfg.WorkspaceRoot, "fngate-"+executionID+"-")
	if err != nil {
		log.Error().Err(err).Msg("workspace creation failed")
		return r.fail(executionID, execution.FailureBuild, fmt.Sprintf("create workspace: %v", err), "", elapsed())
	}
	defer os.RemoveAll(workspace)

	if err := r.materialize(workspace, code, req); err != nil {
		log.Error().Err(err).Msg("workspace materialization failed")
		return r.fail(executionID, execution.FailureBuild, fmt.Sprintf("materialize workspace: %v", err), "", elapsed())
	}

	// Build.
	tag := imageTag(executionID)
	buildCtx, cancel := context.WithTimeout(ctx, r.cfg.BuildTimeout)
	err = r.engine.BuildImage(buildCtx, ports.BuildSpec{
		Tag:        tag,
		BaseImage:  r.cfg.BaseImage,
		ContextDir: workspace,
	})
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("image build failed")
		return r.fail(executionID, execution.FailureBuild, fmt.Sprintf("build image: %v", err), "", elapsed())
	}
	defer r.removeImage(tag)

	// Run.
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Limits.Timeout)
	defer cancel()
	runResult, err := r.engine.Run(runCtx, ports.RunSpec{
		Name:    "fngate-" + executionID,
		Image:   tag,
		Cmd:     r.cfg.Command,
		Limits:  r.cfg.Limits,
		Env:     []string{"FNGATE_REQUEST=/app/" + requestFilename},
		Workdir: "/app",
	})
	if err != nil {
		if runCtx.Err() != nil {
			log.Warn().Int64("elapsed_ms", elapsed()).Msg("execution timed out")
			return r.fail(executionID, execution.FailureTimeout,
				fmt.Sprintf("execution exceeded %s", r.cfg.Limits.Timeout), "", elapsed())
		}
		log.Error().Err(err).Msg("container run failed")
		return r.fail(executionID, execution.FailureCrash, fmt.Sprintf("run container: %v", err), "", elapsed())
	}

	output := string(runResult.CombinedOutput)

	if runResult.OOMKilled {
		log.Warn().Int64("memory_peak", runResult.MemoryPeak).Msg("execution exceeded memory ceiling")
		result := r.fail(executionID, execution.FailureResource, "memory limit exceeded", output, elapsed())
		result.MemoryUsageBytes = runResult.MemoryPeak
		return result
	}

	if runResult.ExitCode != 0 {
		log.Info().Int64("exit_code", runResult.ExitCode).Msg("tenant code crashed")
		result := r.fail(executionID, execution.FailureCrash,
			fmt.Sprintf("process exited with code %d", runResult.ExitCode), output, elapsed())
		result.MemoryUsageBytes = runResult.MemoryPeak
		return result
	}

	response, logs := execution.ParseOutput(runResult.CombinedOutput)
	return execution.Result{
		ExecutionID:      executionID,
		Success:          true,
		Response:         response,
		Logs:             logs,
		ExecutionTimeMs:  elapsed(),
		MemoryUsageBytes: runResult.MemoryPeak,
	}
}

// materialize writes the tenant code and the serialized request into the
// workspace directory.
func (r *SandboxRunner) materialize(workspace string, code []byte, req execution.Request) error {
	if err := os.WriteFile(filepath.Join(workspace, codeFilename), code, 0o644); err != nil {
		return err
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspace, requestFilename), reqJSON, 0o644)
}

func (r *SandboxRunner) fail(executionID string, kind execution.FailureKind, message, logs string, elapsedMs int64) execution.Result {
	if r.collector != nil {
		r.collector.ExecutionFailures.WithLabelValues(string(kind)).Inc()
	}
	return execution.Failure(executionID, kind, message, logs, elapsedMs)
}

// removeImage tears down the per-execution image on a background context;
// the request context may already be dead.
func (r *SandboxRunner) removeImage(tag string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.engine.RemoveImage(ctx, tag); err != nil {
		r.logger.Warn().Err(err).Str("image", tag).Msg("image cleanup failed")
	}
}

func (r *SandboxRunner) gaugeInFlight(delta float64) {
	if r.collector != nil {
		r.collector.SandboxInFlight.Add(delta)
	}
}

func (r *SandboxRunner) gaugeWaiting(delta float64) {
	if r.collector != nil {
		r.collector.SandboxWaiting.Add(delta)
	}
}

// imageTag derives a valid image reference from an execution id.
func imageTag(executionID string) string {
	return "fngate/exec:" + strings.ToLower(executionID)
}
