package sandbox

import (
	"context"
	"fmt"
	"os"
)

// Executor scans, then runs, developer-generated Go code, selecting the
// first available backend at construction the way spec.md §4.D requires:
// container first when preferred and reachable, child-process otherwise.
type Executor struct {
	cfg     Config
	backend Backend
	policy  *Policy
}

// NewExecutor picks a backend: when preferContainer is true and Docker
// responds, ContainerSandbox is used; otherwise ChildProcessSandbox, which
// is always available.
func NewExecutor(cfg Config, preferContainer bool) *Executor {
	if preferContainer {
		container := NewContainerSandbox(cfg, "")
		if container.Available() {
			return &Executor{cfg: cfg, backend: container}
		}
	}
	return &Executor{cfg: cfg, backend: NewChildProcessSandbox(cfg)}
}

// WithPolicy attaches an OPA policy layer evaluated after the built-in
// pattern scan and before launch.
func (e *Executor) WithPolicy(p *Policy) *Executor {
	e.policy = p
	return e
}

// BackendName reports which backend was selected ("container" or "child_process").
func (e *Executor) BackendName() string { return e.backend.Name() }

// ExecuteSource writes code to a temporary file, scans it, and runs it
// through the selected backend (sandbox_executor.py's execute_python_code,
// adapted to Go: code is written to a .go file that the backend runs with
// `go run`).
func (e *Executor) ExecuteSource(ctx context.Context, code string, scan bool) (Result, error) {
	if scan {
		result := ScanCode(code)
		if !result.Safe {
			return Result{
				Success:    false,
				ExitCode:   -1,
				Stderr:     fmt.Sprintf("Security scan failed: %v", result.Issues),
				Killed:     true,
				KillReason: "Failed security scan",
			}, nil
		}
		if e.policy != nil {
			allowed, err := e.policy.Allow(ctx, result)
			if err != nil {
				return Result{}, err
			}
			if !allowed {
				return Result{
					Success:    false,
					ExitCode:   -1,
					Stderr:     "denied by sandbox policy",
					Killed:     true,
					KillReason: "Failed security scan",
				}, nil
			}
		}
	}

	tmp, err := os.CreateTemp("", "artemis-sandbox-*.go")
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("sandbox: write temp file: %w", err)
	}
	tmp.Close()

	return e.backend.ExecuteFile(ctx, tmp.Name(), nil)
}

// ExecuteFile scans a file already on disk and runs it, mirroring
// execute_python_file.
func (e *Executor) ExecuteFile(ctx context.Context, path string, args []string, scan bool) (Result, error) {
	if scan {
		content, err := os.ReadFile(path)
		if err != nil {
			return Result{}, fmt.Errorf("sandbox: read file: %w", err)
		}
		result := ScanCode(string(content))
		if !result.Safe {
			return Result{
				Success:    false,
				ExitCode:   -1,
				Stderr:     fmt.Sprintf("Security scan failed: %v", result.Issues),
				Killed:     true,
				KillReason: "Failed security scan",
			}, nil
		}
		if e.policy != nil {
			allowed, err := e.policy.Allow(ctx, result)
			if err != nil {
				return Result{}, err
			}
			if !allowed {
				return Result{
					Success:    false,
					ExitCode:   -1,
					Stderr:     "denied by sandbox policy",
					Killed:     true,
					KillReason: "Failed security scan",
				}, nil
			}
		}
	}
	return e.backend.ExecuteFile(ctx, path, args)
}
