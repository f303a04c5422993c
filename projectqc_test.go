package qcflow

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/seqwell/qcflow/service"
)

// markerProvider emits one marker command per Fastq of a pair.
type markerProvider struct{}

func (markerProvider) Commands(pair FastqPair, qcDir string) []Command {
	cmds := []Command{}
	for _, fq := range pair {
		cmds = append(cmds, Command{"make_qc", qcDir, fq})
	}
	return cmds
}

// makeQCRunner executes marker commands by touching
// <qc dir>/<fastq base>.qc. Fastqs matched by fail get a non-zero
// exit instead and no marker.
func makeQCRunner(fail func(fq string) bool) Runner {
	return RunnerFunc(func(ctx context.Context, j *Job) (int, error) {
		qcDir, fq := j.Command[1], j.Command[2]
		if fail != nil && fail(fq) {
			return 1, nil
		}
		if err := os.MkdirAll(qcDir, 0755); err != nil {
			return -1, err
		}
		marker := filepath.Join(qcDir, filepath.Base(fq)+".qc")
		if err := os.WriteFile(marker, nil, 0644); err != nil {
			return -1, err
		}
		return 0, nil
	})
}

// fakeVerifyRunner mimics the verify tool's contract: it prints one
// line per Fastq lacking a marker file, prefixed by the project
// directory, among unrelated log noise.
func fakeVerifyRunner() Runner {
	return RunnerFunc(func(ctx context.Context, j *Job) (int, error) {
		var fqDir, qcDir string
		for i, arg := range j.Command {
			switch arg {
			case "--fastq_dir":
				fqDir = j.Command[i+1]
			case "--qc_dir":
				qcDir = j.Command[i+1]
			}
		}
		lines := []string{"verifying qc outputs"}
		entries, err := os.ReadDir(fqDir)
		if err != nil {
			return -1, err
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasSuffix(name, ".fastq") && !strings.HasSuffix(name, ".fastq.gz") {
				continue
			}
			marker := filepath.Join(qcDir, name+".qc")
			if _, err := os.Stat(marker); err != nil {
				lines = append(lines, filepath.Join(fqDir, name))
			}
		}
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(j.Log(), []byte(content), 0644); err != nil {
			return -1, err
		}
		return 0, nil
	})
}

// countingService counts recorded group jobs.
type countingService struct {
	mu        sync.Mutex
	groupJobs int
}

func (s *countingService) AddJob(j *service.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.Group != "" {
		s.groupJobs++
	}
	return nil
}

func (s *countingService) UpdateJob(service.JobUpdater) error { return nil }

func (s *countingService) FindJobs(service.JobFilter) ([]*service.Job, error) {
	return nil, nil
}

func (s *countingService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupJobs
}

func TestCheckQCFindsMissing(t *testing.T) {
	p := makeProject(t, "AB",
		"AB1_S1_L001_R1_001.fastq.gz",
		"AB1_S1_L001_R2_001.fastq.gz",
	)
	s := newTestScheduler(t, 0)
	pqc := NewProjectQC(p)
	_, err := pqc.CheckQC(s, "pre_qc_check", nil, fakeVerifyRunner())
	if err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	if pqc.Verify() {
		t.Fatalf("project without qc outputs shouldn't verify")
	}
	if got := pqc.VerificationStatus(); got != 2 {
		t.Fatalf("verification status: got %v, want 2", got)
	}
	want := []string{
		filepath.Join(p.FastqPath(), "AB1_S1_L001_R1_001.fastq.gz"),
		filepath.Join(p.FastqPath(), "AB1_S1_L001_R2_001.fastq.gz"),
	}
	if got := pqc.MissingQC(); !reflect.DeepEqual(got, want) {
		t.Fatalf("missing qc: got\n%v, want\n%v", got, want)
	}
}

func TestCheckQCVerified(t *testing.T) {
	p := makeProject(t, "AB", "AB1_S1_L001_R1_001.fastq.gz")
	marker := filepath.Join(p.QCPath(), "AB1_S1_L001_R1_001.fastq.gz.qc")
	if err := os.MkdirAll(p.QCPath(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	s := newTestScheduler(t, 0)
	pqc := NewProjectQC(p)
	_, err := pqc.CheckQC(s, "pre_qc_check", nil, fakeVerifyRunner())
	if err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	// status 0 and empty missing list go together
	if !pqc.Verify() {
		t.Fatalf("project with qc outputs should verify")
	}
	if got := pqc.VerificationStatus(); got != 0 {
		t.Fatalf("verification status: got %v, want 0", got)
	}
	if got := pqc.MissingQC(); len(got) != 0 {
		t.Fatalf("missing qc should be empty, got %v", got)
	}
}

func TestCheckQCLogGrammar(t *testing.T) {
	// Only lines starting with the project directory name Fastqs;
	// everything else in the log is ignored.
	p := makeProject(t, "AB", "AB1_S1_L001_R1_001.fastq.gz")
	missing := []string{
		filepath.Join(p.Dir, "fastqs", "AB1_S1_L001_R1_001.fastq.gz"),
		filepath.Join(p.Dir, "fastqs.extra", "AB9_S9_L001_R1_001.fastq.gz"),
	}
	content := strings.Join([]string{
		"reportqc version 1.0",
		missing[0],
		"/somewhere/else/CD1_S1_L001_R1_001.fastq.gz",
		missing[1],
		"done",
	}, "\n") + "\n"
	runner := RunnerFunc(func(ctx context.Context, j *Job) (int, error) {
		return 0, os.WriteFile(j.Log(), []byte(content), 0644)
	})
	s := newTestScheduler(t, 0)
	pqc := NewProjectQC(p)
	_, err := pqc.CheckQC(s, "pre_qc_check", nil, runner)
	if err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	if got := pqc.MissingQC(); !reflect.DeepEqual(got, missing) {
		t.Fatalf("missing qc: got\n%v, want\n%v", got, missing)
	}
	if got := pqc.VerificationStatus(); got != 2 {
		t.Fatalf("verification status: got %v, want 2", got)
	}
}

func TestCheckQCFailedTool(t *testing.T) {
	p := makeProject(t, "AB", "AB1_S1_L001_R1_001.fastq.gz")
	runner := RunnerFunc(func(ctx context.Context, j *Job) (int, error) {
		return 1, os.WriteFile(j.Log(), []byte("verify blew up\n"), 0644)
	})
	s := newTestScheduler(t, 0)
	pqc := NewProjectQC(p)
	_, err := pqc.CheckQC(s, "pre_qc_check", nil, runner)
	if err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	if pqc.Verify() {
		t.Fatalf("failed verify tool shouldn't verify")
	}
	if got := pqc.VerificationStatus(); got != 1 {
		t.Fatalf("verification status: got %v, want 1", got)
	}
}

func setupProjectQC(t *testing.T, p *Project, svc service.JobService) (*ProjectQC, *Scheduler) {
	t.Helper()
	s := NewScheduler(SchedulerConfig{Runner: fakeVerifyRunner(), Service: svc})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	pqc := NewProjectQC(p)
	if _, err := pqc.CheckQC(s, "pre_qc_check", nil, fakeVerifyRunner()); err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	if err := pqc.SetupQC(s, markerProvider{}, makeQCRunner(nil), fakeVerifyRunner()); err != nil {
		t.Fatalf("setup qc: %v", err)
	}
	s.Wait()
	return pqc, s
}

func TestSetupQC(t *testing.T) {
	p := makeProject(t, "AB",
		"AB1_S1_L001_R1_001.fastq.gz",
		"AB1_S1_L001_R2_001.fastq.gz",
		"AB2_S2_L001_R1_001.fastq.gz",
		"AB2_S2_L001_R2_001.fastq.gz",
	)
	svc := &countingService{}
	pqc, _ := setupProjectQC(t, p, svc)
	if !pqc.Verify() {
		t.Fatalf("project should verify after qc ran, missing: %v", pqc.MissingQC())
	}
	// one marker command per fastq
	if got := svc.count(); got != 4 {
		t.Fatalf("group jobs: got %v, want 4", got)
	}
}

func TestSetupQCIdempotent(t *testing.T) {
	p := makeProject(t, "AB",
		"AB1_S1_L001_R1_001.fastq.gz",
		"AB1_S1_L001_R2_001.fastq.gz",
	)
	svc := &countingService{}
	pqc, s := setupProjectQC(t, p, svc)
	if !pqc.Verify() {
		t.Fatalf("project should verify after qc ran")
	}
	first := svc.count()

	// Nothing changed on disk, so a fresh check reports nothing
	// missing and a second setup submits zero qc jobs.
	if _, err := pqc.CheckQC(s, "pre_qc_check", nil, fakeVerifyRunner()); err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	if err := pqc.SetupQC(s, markerProvider{}, makeQCRunner(nil), fakeVerifyRunner()); err != nil {
		t.Fatalf("setup qc: %v", err)
	}
	s.Wait()
	if got := svc.count(); got != first {
		t.Fatalf("second setup submitted %v qc jobs, want 0", got-first)
	}
	if !pqc.Verify() {
		t.Fatalf("project should still verify")
	}
}

func TestSetupQCSingletonR1(t *testing.T) {
	// An R1 with no R2 partner is still scheduled and verified.
	p := makeProject(t, "AB", "AB1_S1_L001_R1_001.fastq.gz")
	svc := &countingService{}
	pqc, _ := setupProjectQC(t, p, svc)
	if !pqc.Verify() {
		t.Fatalf("singleton pair should verify, missing: %v", pqc.MissingQC())
	}
	if got := svc.count(); got != 1 {
		t.Fatalf("group jobs: got %v, want 1", got)
	}
}

func TestSetupQCNoMatchingSamples(t *testing.T) {
	p := makeProject(t, "AB", "AB1_S1_L001_R1_001.fastq.gz")
	s := newTestScheduler(t, 0)
	pqc := NewProjectQC(p)
	pqc.SamplePattern = "XY*"
	if _, err := pqc.CheckQC(s, "pre_qc_check", nil, fakeVerifyRunner()); err != nil {
		t.Fatalf("check qc: %v", err)
	}
	s.Wait()
	// no matching samples is a warning, not an error
	if err := pqc.SetupQC(s, markerProvider{}, makeQCRunner(nil), fakeVerifyRunner()); err != nil {
		t.Fatalf("setup qc: %v", err)
	}
	s.Wait()
	if pqc.Verify() {
		t.Fatalf("nothing ran, so the project still shouldn't verify")
	}
}

func TestReportQCCommand(t *testing.T) {
	p := makeProject(t, "AB", "AB1_S1_L001_R1_001.fastq.gz")
	p.Run = "180210_M00879_0001_AB"
	s := newTestScheduler(t, 0)
	pqc := NewProjectQC(p)
	var mu sync.Mutex
	var got Command
	runner := RunnerFunc(func(ctx context.Context, j *Job) (int, error) {
		mu.Lock()
		got = j.Command
		mu.Unlock()
		return 0, nil
	})
	_, err := pqc.ReportQC(s, "", true, true, runner)
	if err != nil {
		t.Fatalf("report qc: %v", err)
	}
	s.Wait()
	if st := pqc.ReportingStatus(); st != 0 {
		t.Fatalf("reporting status: got %v, want 0", st)
	}
	mu.Lock()
	defer mu.Unlock()
	want := Command{
		"reportqc",
		"--fastq_dir", p.FastqPath(),
		"--qc_dir", p.QCPath(),
		"--filename", filepath.Join(p.Dir, "qc_report.html"),
		"--title", "180210_M00879_0001_AB/AB (fastqs): QC report",
		"--zip",
		"--multiqc",
		p.Dir,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("report command: got\n%v, want\n%v", got, want)
	}
}
