package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait blocks on output held open by orphaned
// grandchildren after the command exits or is killed.
const waitDelay = 5 * time.Second

// procSpec describes one child process.
type procSpec struct {
	Argv []string
	Dir  string
	Env  []string
	// OnLine receives every combined stdout/stderr line.
	OnLine func(string)
}

// execute runs the process to completion and returns its exit code. A
// non-nil error with code ExitNotFound means the process never started.
func execute(ctx context.Context, spec procSpec) (int, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return ExitNotFound, errors.New("no command")
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	pipeReader, pipeWriter := io.Pipe()
	cmd.Stdout = pipeWriter
	cmd.Stderr = pipeWriter

	scanner := bufio.NewScanner(pipeReader)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)

	if err := cmd.Start(); err != nil {
		_ = pipeWriter.Close()
		_ = pipeReader.Close()
		return ExitNotFound, err
	}

	var readWG sync.WaitGroup
	readWG.Add(1)
	go func() {
		defer readWG.Done()
		for scanner.Scan() {
			if spec.OnLine != nil {
				spec.OnLine(scanner.Text())
			}
		}
		// Drain so a writer blocked on an over-long line cannot stall Wait.
		_, _ = io.Copy(io.Discard, pipeReader)
	}()

	waitErr := cmd.Wait()
	_ = pipeWriter.Close()
	readWG.Wait()
	_ = pipeReader.Close()

	if waitErr == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextExitCode(ctxErr), ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitCode(exitErr), waitErr
	}
	return 1, waitErr
}

func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal())
		}
		return status.ExitStatus()
	}
	return 1
}

func contextExitCode(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeout
	}
	return ExitCancelled
}
