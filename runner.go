package qcflow

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// Runner is an execution backend for jobs.
// Run executes the job's command, captures its combined output to the
// job's log file and returns the command's exit code. A non-zero exit
// code is not an error; the error return is for failures to run the
// command at all (or a canceled context).
type Runner interface {
	Run(ctx context.Context, j *Job) (int, error)
}

// RunnerFunc makes a plain function usable as a Runner.
type RunnerFunc func(ctx context.Context, j *Job) (int, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, j *Job) (int, error) {
	return f(ctx, j)
}

// LocalRunner runs a job's command as a local child process.
type LocalRunner struct {
	// Env entries are appended to the current process environment.
	Env []string
}

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, j *Job) (int, error) {
	if len(j.Command) == 0 {
		// an empty command is skipped, not failed
		return 0, nil
	}
	f, err := os.Create(j.Log())
	if err != nil {
		return -1, err
	}
	defer f.Close()
	cmd := exec.CommandContext(ctx, j.Command[0], j.Command[1:]...)
	cmd.Dir = j.Dir
	cmd.Stdout = f
	cmd.Stderr = f
	if len(r.Env) != 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	err = cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// shellSpecial are the characters that make an argument need quoting
// before the remote shell sees it.
const shellSpecial = " \t\n'\"\\$&|;<>()*?[]#~`{}!"

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SSHRunner runs a job's command on another host through ssh.
// It covers the original's cluster-runner niche in the narrowest
// possible form; the remote host needs the QC tools on its PATH and
// the analysis directory mounted at the same path.
type SSHRunner struct {
	// Host is the ssh destination, e.g. "qc@node1".
	Host string
}

// remote composes the command line the remote shell executes. Every
// argument is quoted, so spaces and shell metacharacters arrive as
// literal argument text.
func (r *SSHRunner) remote(j *Job) string {
	args := make([]string, 0, len(j.Command))
	for _, a := range j.Command {
		args = append(args, shellQuote(a))
	}
	return "cd " + shellQuote(j.Dir) + " && " + strings.Join(args, " ")
}

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, j *Job) (int, error) {
	if len(j.Command) == 0 {
		return 0, nil
	}
	f, err := os.Create(j.Log())
	if err != nil {
		return -1, err
	}
	defer f.Close()
	cmd := exec.CommandContext(ctx, "ssh", r.Host, r.remote(j))
	cmd.Stdout = f
	cmd.Stderr = f
	err = cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
