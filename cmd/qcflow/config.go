package main

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml"
	"github.com/seqwell/qcflow"
)

// Config mirrors the qcflow.toml config file. Command line flags
// override its values.
type Config struct {
	// MaxJobs caps how many QC jobs run concurrently.
	MaxJobs int `toml:"max_jobs"`

	// Runner, VerifyRunner and ReportRunner are runner specs for QC,
	// verification and report jobs: "local" or "ssh:<host>".
	// Empty means local.
	Runner       string `toml:"runner"`
	VerifyRunner string `toml:"verify_runner"`
	ReportRunner string `toml:"report_runner"`

	// FastqDir and QCDir name the Fastq and QC subdirectories within
	// each project. Empty means "fastqs" and "qc".
	FastqDir string `toml:"fastq_dir"`
	QCDir    string `toml:"qc_dir"`

	// Run optionally names the sequencing run, for report titles.
	Run string `toml:"run"`

	// VerifyTool overrides the verification/reporting tool.
	VerifyTool string `toml:"verify_tool"`

	// Screens are the fastq_screen conf names to run.
	Screens []string `toml:"screens"`

	// Subset is the fastq_screen read subset size.
	Subset int `toml:"subset"`

	// Threads is passed to fastqc.
	Threads int `toml:"threads"`

	// Ungzip decompresses gzipped Fastqs before running QC on them.
	Ungzip bool `toml:"ungzip"`

	// DB optionally points at a sqlite file recording every job.
	DB string `toml:"db"`

	// LogDir optionally makes qcflow log to rotated files there
	// instead of stderr.
	LogDir string `toml:"log_dir"`
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// parseRunner turns a runner spec into a Runner.
func parseRunner(spec string) (qcflow.Runner, error) {
	switch {
	case spec == "" || spec == "local":
		return &qcflow.LocalRunner{}, nil
	case strings.HasPrefix(spec, "ssh:"):
		host := strings.TrimPrefix(spec, "ssh:")
		if host == "" {
			return nil, fmt.Errorf("runner spec %q: missing host", spec)
		}
		return &qcflow.SSHRunner{Host: host}, nil
	}
	return nil, fmt.Errorf("unknown runner spec %q", spec)
}
