package qcflow

import "strconv"

// CommandProvider yields the commands needed to run QC over one Fastq
// pair. Implementations decide which tools run; the scheduler only
// cares that the commands are runnable.
type CommandProvider interface {
	Commands(pair FastqPair, qcDir string) []Command
}

// DefaultScreens are the fastq_screen conf names run when an
// IlluminaQC doesn't choose its own.
var DefaultScreens = []string{
	"model_organisms",
	"other_organisms",
	"rRNA",
}

// IlluminaQC generates the standard QC commands for Illumina Fastqs:
// a fastqc run plus one fastq_screen run per screen conf, per Fastq.
type IlluminaQC struct {
	// Screens are fastq_screen conf names; each maps to
	// "<name>.conf". Empty means DefaultScreens.
	Screens []string

	// Subset is the fastq_screen read subset size.
	// Zero means the tool's default.
	Subset int

	// Threads is passed to fastqc. Zero means the tool's default.
	Threads int
}

// Commands implements CommandProvider.
func (q IlluminaQC) Commands(pair FastqPair, qcDir string) []Command {
	screens := q.Screens
	if len(screens) == 0 {
		screens = DefaultScreens
	}
	cmds := []Command{}
	for _, fq := range pair {
		fastqc := Command{"fastqc", "--outdir", qcDir, "--nogroup", "--extract"}
		if q.Threads > 0 {
			fastqc = append(fastqc, "--threads", strconv.Itoa(q.Threads))
		}
		fastqc = append(fastqc, fq)
		cmds = append(cmds, fastqc)
		for _, screen := range screens {
			fqscreen := Command{"fastq_screen", "--conf", screen + ".conf", "--outdir", qcDir}
			if q.Subset > 0 {
				fqscreen = append(fqscreen, "--subset", strconv.Itoa(q.Subset))
			}
			fqscreen = append(fqscreen, fq)
			cmds = append(cmds, fqscreen)
		}
	}
	return cmds
}
