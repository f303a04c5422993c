package qcflow

import "fmt"

// JobGroup is an ordered collection of jobs that is tracked as a
// single dependency unit. A group counts as terminal only when it has
// been closed and every job in it is terminal, so a dependent waiting
// for the group is guaranteed to observe all of its jobs finished.
//
// Group state is guarded by the scheduler's lock.
type JobGroup struct {
	id string

	// Name labels the group. Other submissions wait for the group
	// by this name.
	Name string

	// LogDir is where the group's jobs capture their output.
	LogDir string

	sched  *Scheduler
	jobs   []*Job
	closed bool
}

// ID returns the group's identifier.
func (g *JobGroup) ID() string {
	return g.id
}

// Add submits a job as part of the group.
// Adding to a closed group is an error.
func (g *JobGroup) Add(req JobRequest) (*Job, error) {
	s := g.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.closed {
		return nil, fmt.Errorf("group has closed: %v", g.Name)
	}
	if req.LogDir == "" {
		req.LogDir = g.LogDir
	}
	j, err := s.submit(req, g.Name)
	if err != nil {
		return nil, err
	}
	g.jobs = append(g.jobs, j)
	return j, nil
}

// Close marks that no more jobs will be added to the group.
// Only a closed group can become terminal. Closing twice is fine.
func (g *JobGroup) Close() {
	s := g.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	g.closed = true
	s.poke()
}

// Jobs returns the group's jobs in the order they were added.
func (g *JobGroup) Jobs() []*Job {
	s := g.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, len(g.jobs))
	copy(jobs, g.jobs)
	return jobs
}

// terminal implements dependency. It is called with the scheduler's
// lock held. An open group is never terminal.
func (g *JobGroup) terminal() bool {
	if !g.closed {
		return false
	}
	for _, j := range g.jobs {
		if !j.terminal() {
			return false
		}
	}
	return true
}

func (g *JobGroup) depName() string {
	return g.Name
}
