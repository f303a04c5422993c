package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/seqwell/qcflow"
	"github.com/seqwell/qcflow/service"
	"github.com/seqwell/qcflow/sqlite"
	"github.com/spf13/cobra"
	"github.com/visvasity/sglog"
)

var (
	flagConfigPath string
	flagMaxJobs    int
	flagFastqDir   string
	flagQCDir      string
	flagRun        string
	flagSamples    string
	flagUngzip     bool
	flagReportHTML string
	flagMultiQC    bool
	flagNoZip      bool
	flagDB         string
	flagLogDir     string
	flagDebug      bool

	config  = &Config{}
	backend *sglog.Backend
	jobDB   *sql.DB
)

var rootCmd = &cobra.Command{
	Use:          "qcflow",
	Short:        "Run and verify QC for Illumina sequencing projects",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [project dir...]",
	Short: "run QC where outputs are missing, then verify and report",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var checkCmd = &cobra.Command{
	Use:   "check [project dir...]",
	Short: "verify QC outputs and list the Fastqs lacking them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doCheck,
}

var reportCmd = &cobra.Command{
	Use:   "report [project dir...]",
	Short: "generate QC reports for verified projects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doReport,
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "TOML config file - default is qcflow.toml in the current directory")
	pf.IntVar(&flagMaxJobs, "max-jobs", 0, "max concurrent QC jobs, 0 means unbounded")
	pf.StringVar(&flagFastqDir, "fastq-dir", "", "Fastq subdirectory within each project")
	pf.StringVar(&flagQCDir, "qc-dir", "", "QC output subdirectory within each project")
	pf.StringVar(&flagRun, "run", "", "sequencing run name, used in report titles")
	pf.StringVar(&flagDB, "db", "", "sqlite file recording every scheduled job")
	pf.StringVar(&flagLogDir, "log-dir", "", "write rotated log files to this directory instead of stderr")
	pf.BoolVar(&flagDebug, "debug", false, "debug logging")

	runCmd.Flags().StringVar(&flagSamples, "samples", "", "glob pattern restricting QC to matching samples")
	runCmd.Flags().BoolVar(&flagUngzip, "ungzip", false, "decompress gzipped Fastqs before QC")
	for _, cmd := range []*cobra.Command{runCmd, reportCmd} {
		cmd.Flags().StringVar(&flagReportHTML, "report-html", "", "QC report output file")
		cmd.Flags().BoolVar(&flagMultiQC, "multiqc", false, "also generate a MultiQC report")
		cmd.Flags().BoolVar(&flagNoZip, "no-zip", false, "skip the ZIP archive of report and QC outputs")
	}

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initQCFlow
	rootCmd.AddCommand(runCmd, checkCmd, reportCmd)

	err := rootCmd.Execute()
	if err != nil {
		slog.Error("qcflow failed", "err", err)
	}
	if backend != nil {
		backend.Close()
	}
	if jobDB != nil {
		jobDB.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func initQCFlow(cmd *cobra.Command, _ []string) error {
	if flagConfigPath == "" {
		if _, err := os.Stat("qcflow.toml"); err == nil {
			flagConfigPath = "qcflow.toml"
		}
	}
	if flagConfigPath != "" {
		c, err := LoadConfig(flagConfigPath)
		if err != nil {
			return err
		}
		config = c
	}

	// flags take precedence over the config file
	flags := cmd.Flags()
	if flags.Changed("max-jobs") {
		config.MaxJobs = flagMaxJobs
	}
	if flags.Changed("fastq-dir") {
		config.FastqDir = flagFastqDir
	}
	if flags.Changed("qc-dir") {
		config.QCDir = flagQCDir
	}
	if flags.Changed("run") {
		config.Run = flagRun
	}
	if flags.Changed("ungzip") {
		config.Ungzip = flagUngzip
	}
	if flags.Changed("db") {
		config.DB = flagDB
	}
	if flags.Changed("log-dir") {
		config.LogDir = flagLogDir
	}

	if config.LogDir != "" {
		backend = sglog.NewBackend(&sglog.Options{
			LogDirs: []string{config.LogDir},
		})
		if flagDebug {
			backend.SetLevel(slog.LevelDebug)
		}
		slog.SetDefault(slog.New(backend.Handler()))
	} else if flagDebug {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		slog.SetDefault(slog.New(h))
	}

	if config.DB != "" {
		db, err := sqlite.Open(config.DB)
		if err != nil {
			return err
		}
		if err := sqlite.Init(db); err != nil {
			db.Close()
			return err
		}
		jobDB = db
	}
	return nil
}

func jobService() service.JobService {
	if jobDB == nil {
		return nil
	}
	return sqlite.NewJobService(jobDB)
}

func loadProjects(dirs []string) ([]*qcflow.Project, error) {
	projects := []*qcflow.Project{}
	for _, dir := range dirs {
		p, err := qcflow.LoadProject(dir, config.FastqDir, config.QCDir)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", dir, err)
		}
		p.Run = config.Run
		projects = append(projects, p)
	}
	return projects, nil
}

func doRun(cmd *cobra.Command, args []string) error {
	projects, err := loadProjects(args)
	if err != nil {
		return err
	}
	qcRunner, err := parseRunner(config.Runner)
	if err != nil {
		return err
	}
	verifyRunner, err := parseRunner(config.VerifyRunner)
	if err != nil {
		return err
	}
	reportRunner, err := parseRunner(config.ReportRunner)
	if err != nil {
		return err
	}
	runqc := qcflow.NewRunQC(qcflow.Config{
		MaxJobs:      config.MaxJobs,
		QCRunner:     qcRunner,
		VerifyRunner: verifyRunner,
		ReportRunner: reportRunner,
		ReportHTML:   flagReportHTML,
		MultiQC:      flagMultiQC,
		NoZip:        flagNoZip,
		VerifyTool:   config.VerifyTool,
		Service:      jobService(),
	})
	for _, p := range projects {
		pqc := qcflow.NewProjectQC(p)
		pqc.SamplePattern = flagSamples
		pqc.Ungzip = config.Ungzip
		runqc.AddProject(pqc)
	}
	provider := qcflow.IlluminaQC{
		Screens: config.Screens,
		Subset:  config.Subset,
		Threads: config.Threads,
	}
	if status := runqc.Run(cmd.Context(), provider); status != 0 {
		return errors.New("qc failed for one or more projects")
	}
	return nil
}

// checkProjects runs one verification job per project and waits.
func checkProjects(cmd *cobra.Command, args []string) ([]*qcflow.ProjectQC, *qcflow.Scheduler, error) {
	projects, err := loadProjects(args)
	if err != nil {
		return nil, nil, err
	}
	verifyRunner, err := parseRunner(config.VerifyRunner)
	if err != nil {
		return nil, nil, err
	}
	sched := qcflow.NewScheduler(qcflow.SchedulerConfig{
		MaxConcurrent: config.MaxJobs,
		Runner:        verifyRunner,
		Service:       jobService(),
	})
	if err := sched.Start(cmd.Context()); err != nil {
		return nil, nil, err
	}
	pqcs := []*qcflow.ProjectQC{}
	for _, p := range projects {
		pqc := qcflow.NewProjectQC(p)
		if config.VerifyTool != "" {
			pqc.VerifyTool = config.VerifyTool
		}
		if _, err := pqc.CheckQC(sched, "qc_check", nil, verifyRunner); err != nil {
			sched.Stop()
			return nil, nil, err
		}
		pqcs = append(pqcs, pqc)
	}
	sched.Wait()
	return pqcs, sched, nil
}

func doCheck(cmd *cobra.Command, args []string) error {
	pqcs, sched, err := checkProjects(cmd, args)
	if err != nil {
		return err
	}
	defer sched.Stop()
	unverified := 0
	for _, pqc := range pqcs {
		if pqc.Verify() {
			fmt.Printf("%s: verified\n", pqc.Name())
			continue
		}
		unverified++
		missing := pqc.MissingQC()
		fmt.Printf("%s: %d fastqs with missing or invalid QC outputs\n",
			pqc.Name(), len(missing))
		for _, fq := range missing {
			fmt.Printf("  %s\n", fq)
		}
	}
	if unverified != 0 {
		return fmt.Errorf("%d of %d projects unverified", unverified, len(pqcs))
	}
	return nil
}

func doReport(cmd *cobra.Command, args []string) error {
	pqcs, sched, err := checkProjects(cmd, args)
	if err != nil {
		return err
	}
	defer sched.Stop()
	reportRunner, err := parseRunner(config.ReportRunner)
	if err != nil {
		return err
	}
	failed := 0
	for _, pqc := range pqcs {
		if !pqc.Verify() {
			slog.Error("project not verified, no report",
				"project", pqc.Name(), "missing", len(pqc.MissingQC()))
			failed++
			continue
		}
		_, err := pqc.ReportQC(sched, flagReportHTML, !flagNoZip, flagMultiQC, reportRunner)
		if err != nil {
			return err
		}
	}
	sched.Wait()
	for _, pqc := range pqcs {
		if pqc.Verify() && pqc.ReportingStatus() != 0 {
			slog.Error("report generation failed", "project", pqc.Name())
			failed++
		}
	}
	if failed != 0 {
		return fmt.Errorf("%d of %d projects failed", failed, len(pqcs))
	}
	return nil
}
