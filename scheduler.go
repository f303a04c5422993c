package qcflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"

	"github.com/seqwell/qcflow/lib/container"
	"github.com/seqwell/qcflow/service"
	"github.com/seqwell/qcflow/service/nop"
)

// dependency is a job or a job group another job can wait for by name.
// terminal is called with the scheduler's lock held.
type dependency interface {
	terminal() bool
	depName() string
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// MaxConcurrent is the maximum number of jobs running at the
	// same time. Zero or negative means unbounded.
	MaxConcurrent int

	// Runner executes jobs that didn't specify their own runner.
	// When nil, a LocalRunner is used.
	Runner Runner

	// Service records submitted jobs and their terminal state.
	// When nil, records are discarded.
	Service service.JobService
}

// Scheduler runs submitted jobs as concurrent background work,
// bounded by a concurrency limit and ordered by named dependencies.
//
// A scheduler must be started before any submission and stopped after
// the final Wait. A job's failure is data, surfaced through the job's
// exit code and callbacks. It never stops the scheduler or other jobs,
// and failed jobs are not retried.
type Scheduler struct {
	maxConcurrent int
	defaultRunner Runner
	svc           service.JobService

	mu      sync.Mutex
	cond    *sync.Cond
	started bool
	stopped bool

	// deps holds every submitted job and created group by name,
	// for resolving WaitFor references.
	deps map[string]dependency

	// pending holds submitted jobs that haven't started yet,
	// in submission order.
	pending *container.UniqueQueue[*Job]

	// outstanding counts submitted jobs that haven't completed their
	// terminal callbacks yet. Wait blocks while it is non-zero.
	outstanding int

	ctx      context.Context
	cancel   context.CancelFunc
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	wake     chan struct{}
	loopDone chan struct{}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Runner == nil {
		cfg.Runner = &LocalRunner{}
	}
	if cfg.Service == nil {
		cfg.Service = &nop.JobService{}
	}
	s := &Scheduler{
		maxConcurrent: cfg.MaxConcurrent,
		defaultRunner: cfg.Runner,
		svc:           cfg.Service,
		deps:          make(map[string]dependency),
		pending:       container.NewUniqueQueue[*Job](),
		wake:          make(chan struct{}, 1),
		loopDone:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start activates the scheduler so it accepts submissions.
// Calling Start on a started scheduler does nothing.
// A stopped scheduler cannot be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler has stopped")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.maxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(s.maxConcurrent))
	}
	go s.loop()
	return nil
}

// Submit enqueues a single job.
// The job will not start until every dependency named in WaitFor has
// reached a terminal state. Submitting before Start, after Stop, with
// a name already in use, or waiting for an unknown name is an error.
func (s *Scheduler) Submit(req JobRequest) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submit(req, "")
}

// submit does the real work of Submit. Callers should hold the lock.
// group names the job group the job belongs to, if any.
func (s *Scheduler) submit(req JobRequest, group string) (*Job, error) {
	if !s.started {
		return nil, fmt.Errorf("scheduler not started")
	}
	if s.stopped {
		return nil, fmt.Errorf("scheduler has stopped")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("job needs a name")
	}
	if _, ok := s.deps[req.Name]; ok {
		return nil, fmt.Errorf("name already in use: %v", req.Name)
	}
	waitFor := make([]dependency, 0, len(req.WaitFor))
	for _, name := range req.WaitFor {
		d, ok := s.deps[name]
		if !ok {
			return nil, fmt.Errorf("unknown dependency: %v", name)
		}
		waitFor = append(waitFor, d)
	}
	runner := req.Runner
	if runner == nil {
		runner = s.defaultRunner
	}
	logDir := req.LogDir
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("make log dir: %w", err)
		}
	}
	j := &Job{
		id:        xid.New().String(),
		Name:      req.Name,
		Command:   req.Command,
		Dir:       req.Dir,
		Timeout:   req.Timeout,
		runner:    runner,
		waitFor:   waitFor,
		callbacks: req.Callbacks,
		log:       logPath(logDir, req.Dir, req.Name),
		done:      make(chan struct{}),
	}
	s.deps[j.Name] = j
	s.pending.Push(j)
	s.outstanding++
	s.recordSubmit(j, group)
	s.poke()
	return j, nil
}

// NewGroup creates a new, initially open job group.
// Jobs are added to it with Add and no more may be added after Close.
// Other submissions can wait for the group by its name.
func (s *Scheduler) NewGroup(name, logDir string) (*JobGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, fmt.Errorf("scheduler not started")
	}
	if s.stopped {
		return nil, fmt.Errorf("scheduler has stopped")
	}
	if name == "" {
		return nil, fmt.Errorf("group needs a name")
	}
	if _, ok := s.deps[name]; ok {
		return nil, fmt.Errorf("name already in use: %v", name)
	}
	g := &JobGroup{
		id:     xid.New().String(),
		Name:   name,
		LogDir: logDir,
		sched:  s,
	}
	s.deps[name] = g
	return g, nil
}

// Wait blocks the caller until every job submitted so far has reached
// a terminal state and its callbacks have run. Wait tracks jobs only;
// an open group with no unfinished jobs doesn't block it. Submissions
// racing with an in-flight Wait are undefined; submit all work for a
// phase before waiting on it.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.outstanding > 0 {
		s.cond.Wait()
	}
}

// Stop halts the scheduler. Running jobs are canceled through their
// context, jobs that never started are marked failed, and no further
// submissions are accepted. Stop returns after all job goroutines
// have finished.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	drained := []*Job{}
	for {
		j, ok := s.pending.Pop()
		if !ok {
			break
		}
		drained = append(drained, j)
	}
	s.mu.Unlock()
	for _, j := range drained {
		j.finish(-1, false)
		s.recordFinish(j)
		s.finalize(j)
	}
	s.wg.Wait()
	<-s.loopDone
}

// poke wakes the dispatch loop.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		s.dispatch()
	}
}

// dispatch starts every pending job whose dependencies are all
// terminal, in submission order, as long as a concurrency slot is
// free. Jobs with unmet dependencies don't hold a slot and don't
// block later jobs.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	popped := []*Job{}
	for {
		j, ok := s.pending.Pop()
		if !ok {
			break
		}
		popped = append(popped, j)
	}
	rest := []*Job{}
	for _, j := range popped {
		if !depsTerminal(j) {
			rest = append(rest, j)
			continue
		}
		if s.sem != nil && !s.sem.TryAcquire(1) {
			rest = append(rest, j)
			continue
		}
		j.setRunning()
		s.recordRunning(j)
		s.wg.Add(1)
		go s.run(j)
	}
	for _, j := range rest {
		s.pending.Push(j)
	}
}

func depsTerminal(j *Job) bool {
	for _, d := range j.waitFor {
		if !d.terminal() {
			return false
		}
	}
	return true
}

// run executes a single job and completes it.
func (s *Scheduler) run(j *Job) {
	defer s.wg.Done()
	ctx := s.ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	code, err := j.runner.Run(ctx, j)
	if err != nil {
		slog.Error("job run error", "job", j.Name, "err", err)
		if code == 0 {
			code = -1
		}
	}
	j.finish(code, err == nil)
	s.recordFinish(j)
	if s.sem != nil {
		s.sem.Release(1)
	}
	// Dependents of the job may start now.
	s.poke()
	s.finalize(j)
}

// finalize runs the job's callbacks and retires it from the
// outstanding count. Callbacks run before Wait can return, and they
// may submit follow up work through the scheduler handle.
func (s *Scheduler) finalize(j *Job) {
	for _, cb := range j.callbacks {
		cb(j.Name, []*Job{j}, s)
	}
	s.mu.Lock()
	s.outstanding--
	s.cond.Broadcast()
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) recordSubmit(j *Job, group string) {
	cmd, _ := json.Marshal(j.Command)
	err := s.svc.AddJob(&service.Job{
		ID:          j.id,
		Name:        j.Name,
		Group:       group,
		Dir:         j.Dir,
		Command:     string(cmd),
		Status:      int(JobWaiting),
		Log:         j.log,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		slog.Error("record job", "job", j.Name, "err", err)
	}
}

func (s *Scheduler) recordRunning(j *Job) {
	err := s.svc.UpdateJob(service.JobUpdater{
		ID:           j.id,
		UpdateStatus: true,
		Status:       int(JobRunning),
	})
	if err != nil {
		slog.Error("record job update", "job", j.Name, "err", err)
	}
}

func (s *Scheduler) recordFinish(j *Job) {
	u := service.JobUpdater{
		ID:             j.id,
		UpdateStatus:   true,
		Status:         int(j.Status()),
		UpdateFinished: true,
		FinishedAt:     time.Now(),
	}
	if code := j.ExitCode(); code != nil {
		u.UpdateExitCode = true
		u.ExitCode = *code
	}
	err := s.svc.UpdateJob(u)
	if err != nil {
		slog.Error("record job update", "job", j.Name, "err", err)
	}
}
