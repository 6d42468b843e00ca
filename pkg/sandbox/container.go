package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// ContainerSandbox runs the target binary inside a Docker container with a
// read-only rootfs, memory/CPU caps, and the network disabled by default —
// the Go-native equivalent of sandbox_executor.py's DockerSandbox, minus
// the image's Python runtime: the source file's directory is bind-mounted
// read-only and the file is run with `go run`.
type ContainerSandbox struct {
	cfg   Config
	image string
}

// NewContainerSandbox returns a backend bound to cfg. image defaults to
// the official Go toolchain image so `go run` works unmodified inside it.
func NewContainerSandbox(cfg Config, image string) *ContainerSandbox {
	if image == "" {
		image = "golang:1.25-alpine"
	}
	return &ContainerSandbox{cfg: cfg, image: image}
}

// Name implements Backend.
func (s *ContainerSandbox) Name() string { return "container" }

// Available implements Backend: true when the docker CLI responds to
// `docker version`, mirroring DockerSandbox.is_available.
func (s *ContainerSandbox) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "version").Run() == nil
}

// ExecuteFile implements Backend, running sourcePath with `go run` inside
// the container — the Go analogue of DockerSandbox.execute_python's
// `python3 script_name`.
func (s *ContainerSandbox) ExecuteFile(ctx context.Context, sourcePath string, args []string) (Result, error) {
	start := time.Now()

	timeout := time.Duration(s.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := filepath.Dir(sourcePath)
	name := filepath.Base(sourcePath)

	network := "--network=none"
	if s.cfg.AllowNetwork {
		network = "--network=bridge"
	}

	dockerArgs := []string{
		"run", "--rm",
		"--read-only",
		fmt.Sprintf("--memory=%dm", s.cfg.MaxMemoryMB),
		fmt.Sprintf("--cpus=%.2f", cpuShare(s.cfg.MaxCPUSeconds)),
		network,
		fmt.Sprintf("--volume=%s:/workspace:ro", dir),
		"--workdir=/workspace",
		s.image,
		"go", "run", "/workspace/" + name,
	}
	dockerArgs = append(dockerArgs, args...)

	cmd := exec.CommandContext(runCtx, "docker", dockerArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Success:       false,
			ExitCode:      -1,
			Stdout:        stdout.String(),
			Stderr:        stderr.String(),
			ExecutionTime: elapsed,
			Killed:        true,
			KillReason:    fmt.Sprintf("Timeout(%ds)", s.cfg.Timeout),
		}, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{
				Success:       false,
				ExitCode:      exitErr.ExitCode(),
				Stdout:        stdout.String(),
				Stderr:        stderr.String(),
				ExecutionTime: elapsed,
			}, nil
		}
		return Result{
			Success:       false,
			ExitCode:      -1,
			Stdout:        stdout.String(),
			Stderr:        err.Error(),
			ExecutionTime: elapsed,
			Killed:        true,
			KillReason:    fmt.Sprintf("docker error: %v", err),
		}, nil
	}

	return Result{
		Success:       true,
		ExitCode:      0,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExecutionTime: elapsed,
	}, nil
}

// cpuShare converts a CPU-seconds budget into a rough --cpus share the way
// DockerSandbox does (max_cpu_time / 60).
func cpuShare(maxCPUSeconds int) float64 {
	return float64(maxCPUSeconds) / 60
}
