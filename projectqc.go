package qcflow

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ProjectQC runs and verifies the QC of one analysis project.
//
// Verification works through an external verify tool: a check job runs
// `<tool> --fastq_dir F --qc_dir Q --verify --list-unverified DIR` and
// the job's log is parsed line by line; every line starting with the
// project directory path is the path of a Fastq with missing or
// invalid QC output. Only such lines start with the project path, so
// the parse is exact. The tool's exit code and the count of missing
// Fastqs are kept as separate fields; the original conflated both into
// one integer, which VerificationStatus still reproduces for
// compatibility.
type ProjectQC struct {
	// Project is the analysis project being QC'd.
	Project *Project

	// SamplePattern optionally restricts QC to samples whose name
	// matches this glob pattern. Empty matches every sample.
	SamplePattern string

	// Ungzip makes setup prepend a decompression command for every
	// gzipped Fastq selected for QC.
	Ungzip bool

	// VerifyTool is the external verification/reporting tool.
	VerifyTool string

	mu         sync.Mutex
	verifyExit *int
	missing    map[string]bool
	reportExit *int
	used       map[string]int
}

// NewProjectQC creates a ProjectQC for the given project.
func NewProjectQC(project *Project) *ProjectQC {
	return &ProjectQC{
		Project:    project,
		VerifyTool: "reportqc",
		used:       make(map[string]int),
	}
}

// Name returns the project name.
func (p *ProjectQC) Name() string {
	return p.Project.Name
}

// uniqueName scopes a job or group name to this ProjectQC, adding a
// numeric suffix when the same base name is used again (e.g. a second
// QC attempt for the same sample).
func (p *ProjectQC) uniqueName(base string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used[base]++
	n := p.used[base]
	if n == 1 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, n)
}

// CheckQC submits a job checking for Fastqs with missing or invalid
// QC outputs. When the job finishes, its log is parsed and the
// missing Fastq paths become available through MissingQC; Verify and
// VerificationStatus reflect the result. waitFor names jobs or groups
// that must finish before the check runs.
func (p *ProjectQC) CheckQC(sched *Scheduler, name string, waitFor []string, runner Runner) (*Job, error) {
	project := p.Project
	p.mu.Lock()
	p.verifyExit = nil
	p.missing = nil
	p.mu.Unlock()
	cmd := Command{
		p.VerifyTool,
		"--fastq_dir", project.FastqPath(),
		"--qc_dir", project.QCPath(),
		"--verify",
		"--list-unverified",
		project.Dir,
	}
	return sched.Submit(JobRequest{
		Name:      p.uniqueName(name + "." + project.Name),
		Command:   cmd,
		Dir:       project.Dir,
		LogDir:    project.LogsPath(),
		Runner:    runner,
		WaitFor:   waitFor,
		Callbacks: []CallbackFunc{p.extractFastqs},
	})
}

// extractFastqs is the CheckQC completion callback. It records the
// verify tool's exit code and collects the missing Fastq paths from
// the job's log.
func (p *ProjectQC) extractFastqs(name string, jobs []*Job, sched *Scheduler) {
	check := jobs[0]
	exit := -1
	if code := check.ExitCode(); code != nil {
		exit = *code
	}
	missing := make(map[string]bool)
	f, err := os.Open(check.Log())
	if err != nil {
		slog.Error("read verify log", "project", p.Name(), "err", err)
		if exit == 0 {
			exit = -1
		}
	} else {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " \t\r")
			if strings.HasPrefix(line, p.Project.Dir) {
				missing[line] = true
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("read verify log", "project", p.Name(), "err", err)
			if exit == 0 {
				exit = -1
			}
		}
	}
	p.mu.Lock()
	p.verifyExit = &exit
	p.missing = missing
	p.mu.Unlock()
	slog.Debug("qc check finished",
		"project", p.Name(), "exit", exit, "missing", len(missing))
}

// SetupQC submits QC jobs for every Fastq pair that CheckQC found
// lacking valid outputs. All commands of one sample go into one job
// group, and a final re-verification job waits for every group, so
// once the scheduler drains, Verify reflects the post-run state.
// A Fastq is only resubmitted when it was reported missing.
func (p *ProjectQC) SetupQC(sched *Scheduler, provider CommandProvider, qcRunner, verifyRunner Runner) error {
	project := p.Project
	slog.Info("setting up qc",
		"project", p.Name(),
		"fastqs", project.FastqPath(),
		"qc", project.QCPath())
	samples, err := project.Samples(p.SamplePattern)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		slog.Warn("no samples found for qc analysis",
			"project", p.Name(), "pattern", p.SamplePattern)
		return nil
	}
	p.mu.Lock()
	missing := make(map[string]bool, len(p.missing))
	for fq := range p.missing {
		missing[fq] = true
	}
	p.mu.Unlock()

	groups := []string{}
	for _, sample := range samples {
		pairs := []FastqPair{}
		for _, pair := range PairFastqs(sample.Fastqs) {
			for _, fq := range pair {
				if missing[fq] {
					pairs = append(pairs, pair)
					break
				}
			}
		}
		if len(pairs) == 0 {
			continue
		}
		group, err := sched.NewGroup(
			p.uniqueName(project.Name+"."+sample.Name),
			project.LogsPath())
		if err != nil {
			return err
		}
		indx := 0
		for _, pair := range pairs {
			cmds := []Command{}
			if p.Ungzip {
				for _, fq := range pair {
					if strings.HasSuffix(fq, ".gz") {
						cmds = append(cmds, Command{"gzip", "-dk", fq})
					}
				}
			}
			cmds = append(cmds, provider.Commands(pair, project.QCPath())...)
			for _, cmd := range cmds {
				indx++
				label := fmt.Sprintf("%s.%s.%s#%03d",
					cmd.Tool(), project.Name, sample.Name, indx)
				_, err := group.Add(JobRequest{
					Name:    label,
					Command: cmd,
					Dir:     project.Dir,
					Runner:  qcRunner,
				})
				if err != nil {
					return err
				}
			}
		}
		group.Close()
		groups = append(groups, group.Name)
		slog.Info("queued qc jobs",
			"project", p.Name(), "sample", sample.Name, "jobs", indx)
	}
	// Re-verify after every group of this project has finished.
	_, err = p.CheckQC(sched, "verify_qc", groups, verifyRunner)
	return err
}

// ReportQC submits a job generating the project's QC report.
// reportHTML optionally names the output file; zip adds a ZIP archive
// of the report and QC outputs; multiqc adds a MultiQC report.
// ReportingStatus records the job's exit code when it finishes.
func (p *ProjectQC) ReportQC(sched *Scheduler, reportHTML string, zip, multiqc bool, runner Runner) (*Job, error) {
	project := p.Project
	out := reportHTML
	if out == "" {
		out = filepath.Base(project.QCPath()) + "_report.html"
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(project.Dir, out)
	}
	title := project.Name
	if project.Run != "" {
		title = project.Run + "/" + title
	}
	title = fmt.Sprintf("%s (%s): QC report", title, project.FastqDir)
	cmd := Command{
		p.VerifyTool,
		"--fastq_dir", project.FastqPath(),
		"--qc_dir", project.QCPath(),
		"--filename", out,
		"--title", title,
	}
	if zip {
		cmd = append(cmd, "--zip")
	}
	if multiqc {
		cmd = append(cmd, "--multiqc")
	}
	cmd = append(cmd, project.Dir)
	return sched.Submit(JobRequest{
		Name:      p.uniqueName("report_qc." + project.Name),
		Command:   cmd,
		Dir:       project.Dir,
		LogDir:    project.LogsPath(),
		Runner:    runner,
		Callbacks: []CallbackFunc{p.checkReport},
	})
}

// checkReport is the ReportQC completion callback.
func (p *ProjectQC) checkReport(name string, jobs []*Job, sched *Scheduler) {
	report := jobs[0]
	exit := -1
	if code := report.ExitCode(); code != nil {
		exit = *code
	}
	p.mu.Lock()
	p.reportExit = &exit
	p.mu.Unlock()
	slog.Debug("qc report finished", "project", p.Name(), "exit", exit)
}

// Verify returns whether the last verification found every QC output
// present and valid: the verify tool exited cleanly and reported no
// missing Fastqs. It is false while no verification has finished.
func (p *ProjectQC) Verify() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyExit != nil && *p.verifyExit == 0 && len(p.missing) == 0
}

// VerificationStatus returns the legacy combined verification value:
// the verify tool's exit code plus the count of missing Fastqs.
// It is -1 while no verification has finished.
func (p *ProjectQC) VerificationStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifyExit == nil {
		return -1
	}
	return *p.verifyExit + len(p.missing)
}

// ReportingStatus returns the report job's exit code,
// or -1 while no report job has finished.
func (p *ProjectQC) ReportingStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reportExit == nil {
		return -1
	}
	return *p.reportExit
}

// MissingQC returns the sorted paths of the Fastqs the last
// verification reported as lacking valid QC outputs.
func (p *ProjectQC) MissingQC() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	fqs := make([]string, 0, len(p.missing))
	for fq := range p.missing {
		fqs = append(fqs, fq)
	}
	sort.Strings(fqs)
	return fqs
}
