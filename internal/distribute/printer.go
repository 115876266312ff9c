package distribute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/cjeanneret/boothframe/internal/debug"
)

// commandResult is one process execution outcome.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CommandPrinter hands the photo to a spooler command such as `lp`.
// A true result means the job was accepted by the spooler, not that
// paper came out.
type CommandPrinter struct {
	command string
	args    []string
	asPDF   bool
	runner  commandRunner
	toPDF   func(imgPath string) (string, error)
}

// NewCommandPrinter creates a printer that runs command args... <path>.
// With asPDF the image is first laid out on an A4 page.
func NewCommandPrinter(command string, args []string, asPDF bool) *CommandPrinter {
	return &CommandPrinter{
		command: command,
		args:    append([]string(nil), args...),
		asPDF:   asPDF,
		runner:  &execRunner{},
		toPDF:   ImageToPDF,
	}
}

// Print submits path. It never fails loudly: problems are logged and
// reported as false.
func (p *CommandPrinter) Print(ctx context.Context, path string) bool {
	if err := p.print(ctx, path); err != nil {
		debug.Warn("Print warning: %v", err)
		return false
	}
	return true
}

func (p *CommandPrinter) print(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	job := path
	if p.asPDF {
		pdf, err := p.toPDF(path)
		if err != nil {
			return fmt.Errorf("prepare pdf: %w", err)
		}
		job = pdf
	}

	args := append(append([]string(nil), p.args...), job)
	res, err := p.runner.Run(ctx, p.command, args...)
	if err != nil {
		return fmt.Errorf("%s %s: exit %d: %s", p.command, strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	debug.Verbose("Printer: %s accepted %s (%s)", p.command, job, strings.TrimSpace(res.Stdout))
	return nil
}
