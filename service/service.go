package service

import "time"

// JobService is an interface which let us use sqlite.JobService.
// It keeps a record of every job a scheduler has run, so a QC run
// can be audited after the fact.
type JobService interface {
	AddJob(*Job) error
	UpdateJob(JobUpdater) error
	FindJobs(JobFilter) ([]*Job, error)
}

// Job is a job information for database service.
type Job struct {
	ID          string
	Name        string
	Group       string
	Dir         string
	Command     string
	Status      int
	ExitCode    *int
	Log         string
	SubmittedAt time.Time
	FinishedAt  *time.Time
}

// JobUpdater has information for updating a job.
type JobUpdater struct {
	ID             string
	UpdateStatus   bool
	Status         int
	UpdateExitCode bool
	ExitCode       int
	UpdateFinished bool
	FinishedAt     time.Time
}

// JobFilter is a job filter for searching jobs.
type JobFilter struct {
	Name  string
	Group string
}
