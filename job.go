package qcflow

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"
)

// JobStatus is a job status.
type JobStatus int

const (
	JobWaiting = JobStatus(iota)
	JobRunning
	JobFailed
	JobDone
)

// String represents JobStatus as string.
func (s JobStatus) String() string {
	return map[JobStatus]string{
		JobWaiting: "waiting",
		JobRunning: "running",
		JobFailed:  "failed",
		JobDone:    "done",
	}[s]
}

// Terminal returns whether the status is a final one.
// A terminal job will never change it's status again.
func (s JobStatus) Terminal() bool {
	return s == JobFailed || s == JobDone
}

// CallbackFunc is called exactly once after a job reached a terminal state.
// It receives the job's name, the terminal jobs it represents and the
// scheduler, so a callback can inspect exit codes and logs, or submit
// follow up work.
type CallbackFunc func(name string, jobs []*Job, sched *Scheduler)

// JobRequest describes a job to be submitted to a Scheduler.
type JobRequest struct {
	// Name labels the job. It should be unique within a scheduler,
	// because WaitFor dependencies are resolved by name.
	Name string

	// Command is the external command the job runs.
	Command Command

	// Dir is the working directory for the command.
	Dir string

	// LogDir is a directory where the job's combined output is captured.
	// When empty, the job's working directory is used.
	LogDir string

	// Runner executes the command. When nil, the scheduler's default
	// runner is used.
	Runner Runner

	// WaitFor names jobs or groups that must reach a terminal state
	// before this job may start. All names must already be known to
	// the scheduler.
	WaitFor []string

	// Callbacks run exactly once after the job became terminal.
	Callbacks []CallbackFunc

	// Timeout limits how long the command may run. Zero means no limit.
	Timeout time.Duration
}

// Job is a single external-process invocation tracked by a Scheduler.
//
// NOTE: Identity fields of this struct are read-only after submission.
// Mutable state (status, exit code) is guarded by the job's own lock.
type Job struct {
	// id distinguishes the job from all other jobs, including jobs
	// sharing the same name in a job history database.
	id string

	// Name is the label given at submission.
	Name string

	// Command is the external command the job runs.
	Command Command

	// Dir is the working directory for the command.
	Dir string

	// Timeout limits the command's run time. Zero means no limit.
	Timeout time.Duration

	runner    Runner
	waitFor   []dependency
	callbacks []CallbackFunc

	// log is the path the job's combined output is captured to.
	log string

	mu       sync.Mutex
	status   JobStatus
	exitCode *int

	// done is closed when the job reaches a terminal state.
	done chan struct{}
}

// ID returns the job's identifier.
func (j *Job) ID() string {
	return j.id
}

// Status returns the job's current status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// ExitCode returns the command's exit code,
// or nil while the job hasn't finished.
func (j *Job) ExitCode() *int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitCode
}

// Log returns the path of the job's captured output.
func (j *Job) Log() string {
	return j.log
}

// Done returns a channel that is closed when the job became terminal.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// terminal implements dependency.
func (j *Job) terminal() bool {
	return j.Status().Terminal()
}

func (j *Job) depName() string {
	return j.Name
}

// setRunning marks the job running.
func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobRunning
}

// finish records the job's exit code and final status, and closes done.
func (j *Job) finish(code int, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		panic("job finished twice: " + j.Name)
	}
	c := code
	j.exitCode = &c
	if ok && code == 0 {
		j.status = JobDone
	} else {
		j.status = JobFailed
	}
	close(j.done)
}

// MarshalJSON implements json.Marshaler interface.
func (j *Job) MarshalJSON() ([]byte, error) {
	m := struct {
		ID       string
		Name     string
		Status   string
		Command  Command
		Dir      string
		Log      string
		ExitCode *int
	}{
		ID:       j.id,
		Name:     j.Name,
		Status:   j.Status().String(),
		Command:  j.Command,
		Dir:      j.Dir,
		Log:      j.log,
		ExitCode: j.ExitCode(),
	}
	return json.Marshal(m)
}

// logPath composes the job's log file path.
func logPath(logDir, dir, name string) string {
	if logDir == "" {
		logDir = dir
	}
	return filepath.Join(logDir, name+".log")
}
