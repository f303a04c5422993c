package qcflow

import "testing"

func TestSSHRunnerRemoteCommand(t *testing.T) {
	r := &SSHRunner{Host: "qc@node1"}
	cases := []struct {
		job  *Job
		want string
	}{
		{
			job: &Job{
				Dir: "/data/analysis/AB",
				Command: Command{
					"reportqc",
					"--title", "180210_M00879_0001_AB/AB (fastqs): QC report",
				},
			},
			want: `cd /data/analysis/AB && reportqc --title ` +
				`'180210_M00879_0001_AB/AB (fastqs): QC report'`,
		},
		{
			// single quote inside an argument
			job: &Job{
				Dir:     "/data/jim's run",
				Command: Command{"echo", "it's"},
			},
			want: `cd '/data/jim'\''s run' && echo 'it'\''s'`,
		},
		{
			// plain arguments stay unquoted
			job: &Job{
				Dir:     "/data/AB",
				Command: Command{"fastqc", "--outdir", "/data/AB/qc"},
			},
			want: `cd /data/AB && fastqc --outdir /data/AB/qc`,
		},
		{
			job: &Job{
				Dir:     "/data/AB",
				Command: Command{"echo", ""},
			},
			want: `cd /data/AB && echo ''`,
		},
	}
	for _, c := range cases {
		got := r.remote(c.job)
		if got != c.want {
			t.Fatalf("remote command: got %q, want %q", got, c.want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"fastqc", "fastqc"},
		{"--outdir", "--outdir"},
		{"", "''"},
		{"a b", "'a b'"},
		{"(fastqs)", "'(fastqs)'"},
		{"$HOME", "'$HOME'"},
		{"a'b", `'a'\''b'`},
		{"a;rm -rf x", "'a;rm -rf x'"},
	}
	for _, c := range cases {
		if got := shellQuote(c.in); got != c.want {
			t.Fatalf("quote %q: got %q, want %q", c.in, got, c.want)
		}
	}
}
