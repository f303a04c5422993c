package qcflow

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// FastqPair is the Fastqs of one read pair, R1 first.
// A Fastq without a detectable partner is a one-element pair and goes
// through the same missing-output logic as a full pair.
type FastqPair []string

// FastqInfo is what a Fastq file name tells about the file.
type FastqInfo struct {
	// SampleName is the name of the sample the Fastq belongs to.
	SampleName string

	// Read is the read number, 1 or 2.
	// It is 0 when the name doesn't carry a read token.
	Read int

	// Stem is the name with the read token blanked.
	// Fastqs of the same pair share a stem.
	Stem string
}

var (
	sampleNumToken = regexp.MustCompile(`^S\d+$`)
	laneToken      = regexp.MustCompile(`^L\d{3}$`)
	readToken      = regexp.MustCompile(`^[RI][12]$`)
)

// ParseFastqName extracts sample name, read number and pairing stem
// from an Illumina style Fastq file name, e.g.
// "PJB1_S1_L001_R1_001.fastq.gz". Names missing the sample number or
// lane tokens are tolerated; the sample name is then the leading
// token.
func ParseFastqName(path string) FastqInfo {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".fastq")
	base = strings.TrimSuffix(base, ".fq")
	toks := strings.Split(base, "_")

	info := FastqInfo{}
	sampleEnd := 0
	for i, tok := range toks {
		if sampleNumToken.MatchString(tok) || laneToken.MatchString(tok) {
			break
		}
		if readToken.MatchString(tok) && i > 0 {
			break
		}
		sampleEnd = i + 1
	}
	if sampleEnd == 0 {
		sampleEnd = 1
	}
	info.SampleName = strings.Join(toks[:sampleEnd], "_")

	stem := make([]string, len(toks))
	copy(stem, toks)
	for i := sampleEnd; i < len(toks); i++ {
		tok := toks[i]
		if readToken.MatchString(tok) {
			if tok[0] == 'R' {
				info.Read = int(tok[1] - '0')
			}
			stem[i] = string(tok[0]) + "*"
			break
		}
	}
	info.Stem = strings.Join(stem, "_")
	return info
}

// PairFastqs groups Fastq paths into R1/R2 pairs by their shared name
// stem. Fastqs without a partner come out as one-element pairs. The
// pairs are ordered by stem and each pair is ordered by read number.
func PairFastqs(fastqs []string) []FastqPair {
	sorted := make([]string, len(fastqs))
	copy(sorted, fastqs)
	sort.Strings(sorted)

	stems := []string{}
	byStem := make(map[string][]string)
	for _, fq := range sorted {
		info := ParseFastqName(fq)
		if _, ok := byStem[info.Stem]; !ok {
			stems = append(stems, info.Stem)
		}
		byStem[info.Stem] = append(byStem[info.Stem], fq)
	}

	pairs := make([]FastqPair, 0, len(stems))
	for _, stem := range stems {
		fqs := byStem[stem]
		sort.Slice(fqs, func(i, j int) bool {
			return ParseFastqName(fqs[i]).Read < ParseFastqName(fqs[j]).Read
		})
		pairs = append(pairs, FastqPair(fqs))
	}
	return pairs
}
