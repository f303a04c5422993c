package qcflow

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Sample is one biological specimen within a project, together with
// the full paths of its Fastq files.
type Sample struct {
	Name   string
	Fastqs []string
}

// Project is one analysis project: a directory holding a Fastqs
// subdirectory, with QC outputs written to a QC subdirectory.
// A Project is immutable once loaded; per-run choices like subdirs
// are fixed at load time instead of being mutated later.
type Project struct {
	// Name is the project name, normally the directory base name.
	Name string

	// Dir is the absolute path of the project directory.
	Dir string

	// FastqDir is the subdirectory holding the Fastq files.
	FastqDir string

	// QCDir is the subdirectory the QC outputs go to.
	QCDir string

	// Run optionally names the sequencing run the project came from.
	// It only decorates report titles.
	Run string

	samples []*Sample
}

// LoadProject scans an analysis project directory.
// fastqDir and qcDir choose the Fastq and QC subdirectories; empty
// values mean the conventional "fastqs" and "qc".
func LoadProject(dir, fastqDir, qcDir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if fastqDir == "" {
		fastqDir = "fastqs"
	}
	if qcDir == "" {
		qcDir = "qc"
	}
	p := &Project{
		Name:     filepath.Base(abs),
		Dir:      abs,
		FastqDir: fastqDir,
		QCDir:    qcDir,
	}
	entries, err := os.ReadDir(p.FastqPath())
	if err != nil {
		return nil, fmt.Errorf("read fastq dir: %w", err)
	}
	bySample := make(map[string][]string)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".fastq") && !strings.HasSuffix(name, ".fastq.gz") {
			continue
		}
		info := ParseFastqName(name)
		if _, ok := bySample[info.SampleName]; !ok {
			names = append(names, info.SampleName)
		}
		bySample[info.SampleName] = append(bySample[info.SampleName],
			filepath.Join(p.FastqPath(), name))
	}
	sort.Strings(names)
	for _, n := range names {
		fqs := bySample[n]
		sort.Strings(fqs)
		p.samples = append(p.samples, &Sample{Name: n, Fastqs: fqs})
	}
	return p, nil
}

// FastqPath returns the full path of the project's Fastq directory.
func (p *Project) FastqPath() string {
	return filepath.Join(p.Dir, p.FastqDir)
}

// QCPath returns the full path of the project's QC directory.
func (p *Project) QCPath() string {
	return filepath.Join(p.Dir, p.QCDir)
}

// LogsPath returns the full path of the QC logs directory.
func (p *Project) LogsPath() string {
	return filepath.Join(p.QCPath(), "logs")
}

// Samples returns the project's samples whose names match the given
// glob style pattern. An empty pattern matches every sample.
func (p *Project) Samples(pattern string) ([]*Sample, error) {
	if pattern == "" {
		pattern = "*"
	}
	samples := []*Sample{}
	for _, s := range p.samples {
		ok, err := path.Match(pattern, s.Name)
		if err != nil {
			return nil, fmt.Errorf("bad sample pattern %q: %v", pattern, err)
		}
		if ok {
			samples = append(samples, s)
		}
	}
	return samples, nil
}
