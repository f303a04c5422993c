package qcflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFastqName(t *testing.T) {
	cases := []struct {
		path string
		want FastqInfo
	}{
		{
			path: "/data/AB/fastqs/PJB1_S1_L001_R1_001.fastq.gz",
			want: FastqInfo{SampleName: "PJB1", Read: 1, Stem: "PJB1_S1_L001_R*_001"},
		},
		{
			path: "PJB1_S1_L001_R2_001.fastq",
			want: FastqInfo{SampleName: "PJB1", Read: 2, Stem: "PJB1_S1_L001_R*_001"},
		},
		{
			path: "PJB1_S1_L001_I1_001.fastq.gz",
			want: FastqInfo{SampleName: "PJB1", Read: 0, Stem: "PJB1_S1_L001_I*_001"},
		},
		{
			// underscore in the sample name
			path: "PJB_neg_S12_R1_001.fastq.gz",
			want: FastqInfo{SampleName: "PJB_neg", Read: 1, Stem: "PJB_neg_S12_R*_001"},
		},
		{
			// no sample number or lane tokens
			path: "PJB2_R1.fastq.gz",
			want: FastqInfo{SampleName: "PJB2", Read: 1, Stem: "PJB2_R*"},
		},
		{
			// no read token at all
			path: "Undetermined_S0_L001_001.fastq.gz",
			want: FastqInfo{SampleName: "Undetermined", Read: 0, Stem: "Undetermined_S0_L001_001"},
		},
	}
	for _, c := range cases {
		got := ParseFastqName(c.path)
		assert.Equal(t, c.want, got, "path %v", c.path)
	}
}

func TestPairFastqs(t *testing.T) {
	fastqs := []string{
		"/fq/PJB1_S1_L002_R2_001.fastq.gz",
		"/fq/PJB1_S1_L001_R1_001.fastq.gz",
		"/fq/PJB1_S1_L001_R2_001.fastq.gz",
		"/fq/PJB1_S1_L002_R1_001.fastq.gz",
	}
	want := []FastqPair{
		{"/fq/PJB1_S1_L001_R1_001.fastq.gz", "/fq/PJB1_S1_L001_R2_001.fastq.gz"},
		{"/fq/PJB1_S1_L002_R1_001.fastq.gz", "/fq/PJB1_S1_L002_R2_001.fastq.gz"},
	}
	assert.Equal(t, want, PairFastqs(fastqs))
}

func TestPairFastqsSingleton(t *testing.T) {
	// An R1 without a partner still comes out, as a one-element pair.
	fastqs := []string{
		"/fq/PJB1_S1_L001_R1_001.fastq.gz",
		"/fq/PJB1_S1_L001_R2_001.fastq.gz",
		"/fq/PJB2_S2_L001_R1_001.fastq.gz",
	}
	want := []FastqPair{
		{"/fq/PJB1_S1_L001_R1_001.fastq.gz", "/fq/PJB1_S1_L001_R2_001.fastq.gz"},
		{"/fq/PJB2_S2_L001_R1_001.fastq.gz"},
	}
	assert.Equal(t, want, PairFastqs(fastqs))
}
