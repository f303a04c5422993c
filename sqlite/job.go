package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/seqwell/qcflow/service"
)

// CreateJobsTable creates jobs table to a database if not exists.
// It is ok to call it multiple times.
func CreateJobsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			grp TEXT NOT NULL,
			dir TEXT NOT NULL,
			command TEXT NOT NULL,
			status INTEGER NOT NULL,
			exit_code INTEGER,
			log TEXT NOT NULL,
			submitted_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		);
	`)
	return err
}

// JobService interacts with a database for qcflow jobs.
type JobService struct {
	db *sql.DB
}

// NewJobService creates a new JobService.
func NewJobService(db *sql.DB) *JobService {
	return &JobService{db: db}
}

// AddJob adds a job record into a database.
func (s *JobService) AddJob(j *service.Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.Exec(`
		INSERT INTO jobs (
			id,
			name,
			grp,
			dir,
			command,
			status,
			exit_code,
			log,
			submitted_at,
			finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID,
		j.Name,
		j.Group,
		j.Dir,
		j.Command,
		j.Status,
		j.ExitCode,
		j.Log,
		j.SubmittedAt,
		j.FinishedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateJob updates a job record in a database.
func (s *JobService) UpdateJob(u service.JobUpdater) error {
	keys := []string{}
	vals := []interface{}{}
	if u.UpdateStatus {
		keys = append(keys, "status = ?")
		vals = append(vals, u.Status)
	}
	if u.UpdateExitCode {
		keys = append(keys, "exit_code = ?")
		vals = append(vals, u.ExitCode)
	}
	if u.UpdateFinished {
		keys = append(keys, "finished_at = ?")
		vals = append(vals, u.FinishedAt)
	}
	if len(keys) == 0 {
		return fmt.Errorf("job updater doesn't have any field to update")
	}
	vals = append(vals, u.ID)
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	result, err := tx.Exec(`
		UPDATE jobs
		SET `+strings.Join(keys, ", ")+`
		WHERE id = ?
	`,
		vals...,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("want 1 affected row, got %v", n)
	}
	return tx.Commit()
}

// FindJobs finds job records matched with the filter from a database.
func (s *JobService) FindJobs(f service.JobFilter) ([]*service.Job, error) {
	keys := []string{}
	vals := []interface{}{}
	if f.Name != "" {
		keys = append(keys, "name = ?")
		vals = append(vals, f.Name)
	}
	if f.Group != "" {
		keys = append(keys, "grp = ?")
		vals = append(vals, f.Group)
	}
	where := ""
	if len(keys) != 0 {
		where = "WHERE " + strings.Join(keys, " AND ")
	}
	rows, err := s.db.Query(`
		SELECT
			id,
			name,
			grp,
			dir,
			command,
			status,
			exit_code,
			log,
			submitted_at,
			finished_at
		FROM jobs `+where+`
		ORDER BY submitted_at
	`,
		vals...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []*service.Job{}
	for rows.Next() {
		j := &service.Job{}
		err := rows.Scan(
			&j.ID,
			&j.Name,
			&j.Group,
			&j.Dir,
			&j.Command,
			&j.Status,
			&j.ExitCode,
			&j.Log,
			&j.SubmittedAt,
			&j.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
