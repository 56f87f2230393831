package provision

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Cmd is a one-shot command.
type Cmd struct {
	Path string
	Args []string
	Env  map[string]string // additional env vars
	Dir  string            // working directory
	// Stream forwards output line by line to the logger instead of the
	// terminal.
	Stream bool
}

func (c Cmd) String() string { return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " ")) }

// Runner executes a Cmd to completion.
type Runner func(ctx context.Context, c Cmd) error

// ExecRunner returns a Runner backed by os/exec. Streamed lines go to log.
func ExecRunner(log *zerolog.Logger) Runner {
	return func(ctx context.Context, c Cmd) error {
		cmd := exec.CommandContext(ctx, c.Path, c.Args...)
		if c.Dir != "" {
			cmd.Dir = c.Dir
		}
		cmd.Env = os.Environ()
		for _, k := range sortedKeys(c.Env) {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, c.Env[k]))
		}
		if !c.Stream || log == nil {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		done := make(chan struct{}, 2)
		go stream(log, c.Path, "stdout", stdout, done)
		go stream(log, c.Path, "stderr", stderr, done)
		<-done
		<-done
		return cmd.Wait()
	}
}

func stream(log *zerolog.Logger, cmd, name string, r io.Reader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for s.Scan() {
		log.Info().Str("cmd", cmd).Str("stream", name).Msg(s.Text())
	}
	if err := s.Err(); err != nil {
		log.Warn().Err(err).Str("cmd", cmd).Str("stream", name).Msg("output no longer logged")
	}
	// Keep the pipe empty so the child never blocks on a full buffer.
	_, _ = io.Copy(io.Discard, r)
}

// maybeSudo wraps c in sudo when not running as root and sudo exists.
func (p *Provisioner) maybeSudo(c Cmd) Cmd {
	if p.geteuid() == 0 || !p.onPath("sudo") {
		return c
	}
	// sudo resets the environment, so Env travels as leading KEY=VALUE args.
	args := make([]string, 0, len(c.Env)+1+len(c.Args))
	for _, k := range sortedKeys(c.Env) {
		args = append(args, k+"="+c.Env[k])
	}
	args = append(args, c.Path)
	args = append(args, c.Args...)
	return Cmd{Path: "sudo", Args: args, Env: c.Env, Dir: c.Dir, Stream: c.Stream}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
