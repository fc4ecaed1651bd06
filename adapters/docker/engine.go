// Package docker implements the container engine port on the Docker Engine
// API. Each run gets a fresh container with no network, a read-only root
// filesystem, dropped capabilities and hard resource limits.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"

	"github.com/fngate/fngate/ports"
)

// maxOutputBytes bounds how much container output is collected. Anything
// beyond this is discarded.
const maxOutputBytes = 1 << 20 // 1MB

// Engine implements ports.ContainerEngine using the Docker Engine API.
type Engine struct {
	cli  *client.Client
	live atomic.Int64
}

// NewEngine creates an engine bound to the local Docker daemon.
func NewEngine() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{cli: cli}, nil
}

// NewEngineWithClient creates an engine around an existing client.
func NewEngineWithClient(cli *client.Client) *Engine {
	return &Engine{cli: cli}
}

// Close releases the underlying client.
func (e *Engine) Close() error {
	return e.cli.Close()
}

// BuildImage builds a minimal layered image over the base image: the
// workspace directory is copied in and becomes the working directory. The
// build context is assembled in memory as a tar stream.
func (e *Engine) BuildImage(ctx context.Context, spec ports.BuildSpec) error {
	buildCtx, err := buildContext(spec)
	if err != nil {
		return fmt.Errorf("assemble build context: %w", err)
	}

	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:           []string{spec.Tag},
		Dockerfile:     "Dockerfile",
		Remove:         true,
		ForceRemove:    true,
		SuppressOutput: true,
	})
	if err != nil {
		return fmt.Errorf("build image %s: %w", spec.Tag, err)
	}
	defer resp.Body.Close()

	// The build runs server-side; draining the response surfaces errors.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("stream build output for %s: %w", spec.Tag, err)
	}
	return nil
}

// buildContext tars the Dockerfile and workspace contents.
func buildContext(spec ports.BuildSpec) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dockerfile := fmt.Sprintf("FROM %s\nWORKDIR /app\nCOPY . /app/\n", spec.BaseImage)
	if err := writeTarFile(tw, "Dockerfile", []byte(dockerfile)); err != nil {
		return nil, err
	}

	err := filepath.Walk(spec.ContextDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(spec.ContextDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return writeTarFile(tw, rel, data)
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Run creates and starts an isolated container, waits for it to exit
// (bounded by ctx) and returns the collected output and exit state. The
// container is always force-removed before returning, even on the
// cancellation path.
func (e *Engine) Run(ctx context.Context, spec ports.RunSpec) (ports.RunResult, error) {
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      spec.Workdir,
		Env:             spec.Env,
		NetworkDisabled: true,
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		AutoRemove:     false, // removed explicitly so logs survive the exit
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		Resources: container.Resources{
			Memory:     spec.Limits.MemoryBytes,
			MemorySwap: spec.Limits.MemoryBytes, // no swap headroom
			NanoCPUs:   int64(spec.Limits.CPUQuota * 1e9),
			PidsLimit:  &spec.Limits.MaxProcs,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: spec.Limits.MaxOpenFD, Hard: spec.Limits.MaxOpenFD},
			},
		},
	}

	created, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return ports.RunResult{}, fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	id := created.ID

	e.live.Add(1)
	defer e.live.Add(-1)
	defer e.remove(id)

	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return ports.RunResult{}, fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	var result ports.RunResult
	select {
	case <-ctx.Done():
		// Kill outright; the deferred remove tears the container down.
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.cli.ContainerKill(killCtx, id, "SIGKILL")
		return ports.RunResult{}, ctx.Err()
	case err := <-errCh:
		return ports.RunResult{}, fmt.Errorf("wait for container %s: %w", spec.Name, err)
	case status := <-statusCh:
		result.ExitCode = status.StatusCode
	}

	inspect, err := e.cli.ContainerInspect(ctx, id)
	if err == nil && inspect.State != nil {
		result.OOMKilled = inspect.State.OOMKilled
	}

	result.CombinedOutput, err = e.collectOutput(ctx, id)
	if err != nil {
		return result, fmt.Errorf("collect output for %s: %w", spec.Name, err)
	}

	result.MemoryPeak = e.memoryPeak(ctx, id)
	return result, nil
}

// collectOutput demultiplexes the container's stdout and stderr into one
// interleaved byte stream, truncated at maxOutputBytes.
func (e *Engine) collectOutput(ctx context.Context, id string) ([]byte, error) {
	logs, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, err
	}
	defer logs.Close()

	var buf bytes.Buffer
	limited := &limitWriter{w: &buf, n: maxOutputBytes}
	if _, err := stdcopy.StdCopy(limited, limited, logs); err != nil && !errors.Is(err, errOutputTruncated) {
		return nil, err
	}
	return buf.Bytes(), nil
}

// memoryPeak reads the container's peak memory usage. Best effort: stats
// may already be gone for a short-lived container.
func (e *Engine) memoryPeak(ctx context.Context, id string) int64 {
	stats, err := e.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0
	}
	defer stats.Body.Close()

	var v struct {
		MemoryStats struct {
			MaxUsage int64 `json:"max_usage"`
			Usage    int64 `json:"usage"`
		} `json:"memory_stats"`
	}
	if err := decodeJSON(stats.Body, &v); err != nil {
		return 0
	}
	if v.MemoryStats.MaxUsage > 0 {
		return v.MemoryStats.MaxUsage
	}
	return v.MemoryStats.Usage
}

func (e *Engine) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// RemoveImage removes a built image.
func (e *Engine) RemoveImage(ctx context.Context, tag string) error {
	_, err := e.cli.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		return fmt.Errorf("remove image %s: %w", tag, err)
	}
	return nil
}

// Live returns the number of currently running sandbox containers.
func (e *Engine) Live() int {
	return int(e.live.Load())
}

// Ensure interface compliance.
var _ ports.ContainerEngine = (*Engine)(nil)
