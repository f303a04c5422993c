package nop

import "github.com/seqwell/qcflow/service"

// JobService is a JobService which does nothing.
// We need this for testing.
type JobService struct{}

// AddJob returns nil always.
func (s *JobService) AddJob(j *service.Job) error {
	return nil
}

// UpdateJob returns nil.
func (s *JobService) UpdateJob(service.JobUpdater) error {
	return nil
}

// FindJobs returns (nil, nil).
func (s *JobService) FindJobs(f service.JobFilter) ([]*service.Job, error) {
	return nil, nil
}
