package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Process supervises the external live-timing client that appends events to
// the data file. It implements pipeline.Extractor.
type Process struct {
	name   string
	args   []string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

// New creates a Process for command with the given arguments. It does not
// start it.
func New(command []string, args []string, logger *slog.Logger) (*Process, error) {
	if len(command) == 0 {
		return nil, errors.New("extractor command is empty")
	}
	full := append(append([]string{}, command[1:]...), args...)
	return &Process{name: command[0], args: full, logger: logger, done: make(chan struct{})}, nil
}

// Args builds the client arguments: the output file, the topics to record
// and the session timeout in seconds.
func Args(dataFile string, topics []string, timeout time.Duration) []string {
	args := make([]string, 0, len(topics)+3)
	args = append(args, dataFile)
	args = append(args, topics...)
	return append(args, "--timeout", strconv.Itoa(int(timeout.Seconds())))
}

// Start launches the subprocess. Its stdout and stderr are forwarded to the
// debug log line by line.
func (p *Process) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return errors.New("extractor already started")
	}

	cmd := exec.Command(p.name, p.args...)
	cmd.Stdout = &logWriter{logger: p.logger, stream: "stdout"}
	cmd.Stderr = &logWriter{logger: p.logger, stream: "stderr"}
	cmd.WaitDelay = outputWaitDelay
	// Own process group, so Stop reaches children of wrapper commands.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start extractor %q: %w", p.name, err)
	}
	p.cmd = cmd
	p.logger.Info("extractor started", "command", p.name, "args", p.args, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		if err != nil {
			p.logger.Warn("extractor exited", "error", err, "exit_code", cmd.ProcessState.ExitCode())
		} else {
			p.logger.Info("extractor exited", "exit_code", 0)
		}
		close(p.done)
	}()
	return nil
}

// outputWaitDelay bounds how long Wait keeps copying output after the
// process exits, in case a grandchild still holds the pipes.
const outputWaitDelay = 2 * time.Second

// logWriter forwards complete output lines to the debug log.
type logWriter struct {
	logger *slog.Logger
	stream string
	buf    []byte
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logger.Debug("extractor output", "stream", w.stream, "line", string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}

// Done is closed once the subprocess has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the subprocess exit error after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop asks the subprocess to terminate and kills it if it is still running
// after timeout. It reports whether the kill was needed.
func (p *Process) Stop(timeout time.Duration) (bool, error) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return false, nil
	}

	select {
	case <-p.done:
		return false, nil
	default:
	}

	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("signal extractor: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return false, nil
	case <-timer.C:
	}

	p.logger.Warn("extractor did not exit in time, killing", "timeout", timeout)
	if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
		return true, fmt.Errorf("kill extractor: %w", err)
	}
	<-p.done
	return true, nil
}

// signalGroup delivers sig to every process in the extractor's group. A
// group that has already gone away is not an error.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
