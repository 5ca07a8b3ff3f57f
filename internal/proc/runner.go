// Package proc executes external commands, either synchronously or as
// line-streamed background runs with cooperative cancellation.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCancelled is returned when a run ended because the caller cancelled it.
var ErrCancelled = errors.New("operation cancelled")

// defaultKillGrace is how long a signalled child may keep running before
// it is forcefully killed.
const defaultKillGrace = 5 * time.Second

// maxLineSize bounds a single output line from a child process.
const maxLineSize = 1024 * 1024 // 1MB

// Result holds the outcome of a synchronous run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Outcome is the terminal event of a streaming run. Exactly one Outcome is
// delivered per run, after the line channel has been closed.
type Outcome struct {
	Success   bool
	Cancelled bool
	Message   string
}

// Stream is a handle on a running streaming command. Consumers must drain
// Lines until it is closed, then receive the terminal Outcome from Done.
type Stream struct {
	lines chan string
	done  chan Outcome
}

// Lines returns the channel carrying the child's stdout lines in arrival
// order. It is closed when no further lines will be delivered.
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Done returns the channel carrying the single terminal Outcome.
func (s *Stream) Done() <-chan Outcome {
	return s.done
}

// Runner executes external commands.
type Runner struct {
	logger    zerolog.Logger
	killGrace time.Duration
}

// New creates a Runner.
func New(logger zerolog.Logger) *Runner {
	return &Runner{
		logger:    logger.With().Str("component", "runner").Logger(),
		killGrace: defaultKillGrace,
	}
}

// RunSync runs a command to completion and captures its output. env entries
// ("KEY=value") are appended to the current process environment; they are
// never logged. A non-zero exit is not an error here: callers inspect
// Result.ExitCode. An error is returned only when the command could not be
// started or the context was cancelled before it completed.
func (r *Runner) RunSync(ctx context.Context, bin string, args, env []string) (*Result, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().
		Str("command", bin).
		Strs("args", args).
		Msg("running command")

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", bin, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", bin, ErrCancelled)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The command never ran (missing binary, permissions, ...).
			return nil, fmt.Errorf("start %s: %w", bin, err)
		}
	}

	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	r.logger.Debug().
		Str("command", bin).
		Int("exit_code", res.ExitCode).
		Msg("command finished")

	return res, nil
}

// RunStreaming starts a command and delivers its stdout line by line as it
// arrives. When the child exits the line channel closes and a single
// terminal Outcome follows: success on exit code 0, failure carrying the
// captured stderr, or a cancelled outcome when ctx was cancelled mid-run.
// Cancellation signals the child with SIGTERM and escalates to SIGKILL
// after a bounded grace period, so the run never blocks on a child that
// ignores the signal.
func (r *Runner) RunStreaming(ctx context.Context, bin string, args, env []string) (*Stream, error) {
	runID := uuid.New().String()
	logger := r.logger.With().Str("run_id", runID).Logger()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(cmd.Environ(), env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	// Also bounds how long an inherited stdout descriptor may outlive the
	// child before Wait gives up on it.
	cmd.WaitDelay = r.killGrace

	pr, pw := io.Pipe()
	cmd.Stdout = pw

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	logger.Debug().
		Str("command", bin).
		Strs("args", args).
		Int("pid", cmd.Process.Pid).
		Msg("streaming command started")

	stream := &Stream{
		lines: make(chan string),
		done:  make(chan Outcome, 1),
	}

	waitDone := make(chan struct{})
	var waitErr error

	go func() {
		waitErr = cmd.Wait()
		pw.Close()
		close(waitDone)
	}()

	go func() {
		scanner := bufio.NewScanner(pr)
		buf := make([]byte, maxLineSize)
		scanner.Buffer(buf, maxLineSize)

		for scanner.Scan() {
			if ctx.Err() != nil {
				// The consumer cancelled; keep draining so the child
				// is not blocked on a full pipe.
				continue
			}
			select {
			case stream.lines <- scanner.Text():
			case <-ctx.Done():
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn().Err(err).Msg("error reading command output")
		}
		close(stream.lines)

		<-waitDone

		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}

		switch {
		case ctx.Err() != nil:
			logger.Info().Msg("streaming command cancelled")
			stream.done <- Outcome{Cancelled: true, Message: ErrCancelled.Error()}
		case waitErr == nil,
			errors.Is(waitErr, exec.ErrWaitDelay) && exitCode == 0:
			// ErrWaitDelay with a clean exit means a straggler held on
			// to the output pipe after the child succeeded.
			logger.Debug().Msg("streaming command finished")
			stream.done <- Outcome{Success: true, Message: "completed successfully"}
		default:
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = waitErr.Error()
			}
			logger.Warn().Int("exit_code", exitCode).Msg("streaming command failed")
			stream.done <- Outcome{Success: false, Message: msg}
		}
	}()

	return stream, nil
}
