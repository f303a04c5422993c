package qcflow

import (
	"context"
	"log/slog"

	"github.com/seqwell/qcflow/service"
)

// Config carries every knob of a QC run. It replaces the original's
// process-wide settings object; nothing here is looked up globally.
type Config struct {
	// MaxJobs caps how many QC jobs run concurrently.
	// Zero means unbounded.
	MaxJobs int

	// QCRunner runs the QC tool jobs.
	// VerifyRunner runs verification jobs; ReportRunner runs report
	// jobs and falls back to VerifyRunner, then to a LocalRunner.
	QCRunner     Runner
	VerifyRunner Runner
	ReportRunner Runner

	// ReportHTML optionally names the report output file.
	ReportHTML string

	// MultiQC adds a MultiQC report to the reporting step.
	MultiQC bool

	// NoZip skips the ZIP archive of report and QC outputs.
	NoZip bool

	// VerifyTool overrides the verification/reporting tool of every
	// added project. Empty keeps each project's own setting.
	VerifyTool string

	// Service optionally records every scheduled job.
	Service service.JobService
}

// RunQC runs QC across multiple projects through one shared scheduler.
//
// Usage:
//
//	runqc := NewRunQC(cfg)
//	for _, project := range projects {
//		runqc.AddProject(NewProjectQC(project))
//	}
//	status := runqc.Run(ctx, IlluminaQC{})
type RunQC struct {
	cfg      Config
	projects []*ProjectQC
	sched    *Scheduler
}

// NewRunQC creates a new RunQC with the given configuration.
func NewRunQC(cfg Config) *RunQC {
	if cfg.VerifyRunner == nil {
		cfg.VerifyRunner = &LocalRunner{}
	}
	if cfg.QCRunner == nil {
		cfg.QCRunner = cfg.VerifyRunner
	}
	if cfg.ReportRunner == nil {
		cfg.ReportRunner = cfg.VerifyRunner
	}
	return &RunQC{cfg: cfg}
}

// AddProject registers a project for the run.
func (r *RunQC) AddProject(p *ProjectQC) {
	if r.cfg.VerifyTool != "" {
		p.VerifyTool = r.cfg.VerifyTool
	}
	r.projects = append(r.projects, p)
}

// Run schedules and executes the QC in three phases: an initial
// verification of every project, QC jobs for everything found
// missing, and report generation for every project that now
// verifies. One project's failure never blocks another's; failures
// are aggregated, logged by name, and folded into the return value.
//
// It returns 0 when every project was QC'd and reported successfully,
// 1 otherwise.
func (r *RunQC) Run(ctx context.Context, provider CommandProvider) int {
	r.sched = NewScheduler(SchedulerConfig{
		MaxConcurrent: r.cfg.MaxJobs,
		Runner:        r.cfg.VerifyRunner,
		Service:       r.cfg.Service,
	})
	if err := r.sched.Start(ctx); err != nil {
		slog.Error("start scheduler", "err", err)
		return 1
	}
	defer r.sched.Stop()

	// Initial QC check for each project.
	for _, p := range r.projects {
		slog.Info("checking qc", "project", p.Name())
		_, err := p.CheckQC(r.sched, "pre_qc_check", nil, r.cfg.VerifyRunner)
		if err != nil {
			slog.Error("check qc", "project", p.Name(), "err", err)
			return 1
		}
	}
	r.sched.Wait()

	// Run QC for each unverified project. Each setup chains its own
	// re-verification job behind the project's job groups, so after
	// this wait every project's verification reflects the outcome.
	for _, p := range r.projects {
		if p.Verify() {
			continue
		}
		slog.Info("running qc", "project", p.Name(),
			"missing", len(p.MissingQC()))
		err := p.SetupQC(r.sched, provider, r.cfg.QCRunner, r.cfg.VerifyRunner)
		if err != nil {
			slog.Error("setup qc", "project", p.Name(), "err", err)
			return 1
		}
	}
	r.sched.Wait()

	// Verify the outcome and generate QC reports.
	failed := []*ProjectQC{}
	for _, p := range r.projects {
		if !p.Verify() {
			failed = append(failed, p)
			continue
		}
		slog.Info("reporting qc", "project", p.Name())
		_, err := p.ReportQC(r.sched, r.cfg.ReportHTML, !r.cfg.NoZip,
			r.cfg.MultiQC, r.cfg.ReportRunner)
		if err != nil {
			slog.Error("report qc", "project", p.Name(), "err", err)
			failed = append(failed, p)
		}
	}
	r.sched.Wait()

	// Check reporting.
	for _, p := range r.projects {
		if containsProject(failed, p) {
			continue
		}
		if p.ReportingStatus() == 0 {
			slog.Info("generated qc report", "project", p.Name())
		} else {
			failed = append(failed, p)
		}
	}
	if len(failed) != 0 {
		slog.Error("qc failed for one or more samples in the following projects")
		for _, p := range failed {
			slog.Error("qc failed", "project", p.Name())
		}
		return 1
	}
	return 0
}

func containsProject(projects []*ProjectQC, p *ProjectQC) bool {
	for _, q := range projects {
		if q == p {
			return true
		}
	}
	return false
}
