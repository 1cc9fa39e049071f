// Package report writes the durable, human-readable record of a restore run.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind identifies the pipeline stage a report belongs to.
type Kind string

const (
	KindIntegrity Kind = "integrity_check"
	KindRebuild   Kind = "buckets_rebuilt"
)

// Section titles.
const (
	TitleIntegrityFailed = "Buckets Failed"
	TitleIntegrityPassed = "Buckets Passed"
	TitleUnverifiable    = "Buckets Have No Data Integrity Check"
	TitleRebuilt         = "Buckets Successfully Rebuilt"
	TitleRebuildFailed   = "Buckets Failed to Rebuild"
	TitleFailureReasons  = "Failure Reasons"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	filenameLayout  = "2006-01-02-15-04-05"
)

// Section is one titled list of bucket identifiers.
type Section struct {
	Title   string
	Entries []string
}

// Failure records why a bucket ended up in a failure category.
type Failure struct {
	Bucket string
	Reason string
}

// RunReport is a snapshot of the verdict lists of one stage.
type RunReport struct {
	Kind      Kind
	Timestamp time.Time
	Sections  []Section
	Failures  []Failure
}

// Integrity builds the report of the integrity verification stage.
func Integrity(ts time.Time, failed, passed, unverifiable []string, failures []Failure) RunReport {
	return RunReport{
		Kind:      KindIntegrity,
		Timestamp: ts,
		Sections: []Section{
			{Title: TitleIntegrityFailed, Entries: clone(failed)},
			{Title: TitleIntegrityPassed, Entries: clone(passed)},
			{Title: TitleUnverifiable, Entries: clone(unverifiable)},
		},
		Failures: append([]Failure(nil), failures...),
	}
}

// Rebuild builds the report of the rebuild stage.
func Rebuild(ts time.Time, succeeded, failed []string, failures []Failure) RunReport {
	return RunReport{
		Kind:      KindRebuild,
		Timestamp: ts,
		Sections: []Section{
			{Title: TitleRebuilt, Entries: clone(succeeded)},
			{Title: TitleRebuildFailed, Entries: clone(failed)},
		},
		Failures: append([]Failure(nil), failures...),
	}
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

// Filename returns the base name the report is written under.
func (r RunReport) Filename() string {
	return fmt.Sprintf("%s_%s.log", r.Timestamp.Format(filenameLayout), r.Kind)
}

// Section returns the entries of the named section.
func (r RunReport) Section(title string) []string {
	for _, s := range r.Sections {
		if s.Title == title {
			return s.Entries
		}
	}
	return nil
}

// WriteTo renders the report as text.
//
//	Timestamp: 2021-03-16 10:00:00
//
//	Buckets Failed
//	--------------
//
//	1- db_1615766400_1615680000_12
func (r RunReport) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	fmt.Fprintf(bw, "Timestamp: %s\n\n", r.Timestamp.Format(timestampLayout))
	for _, s := range r.Sections {
		writeSection(bw, s.Title, s.Entries)
	}

	if len(r.Failures) > 0 {
		entries := make([]string, 0, len(r.Failures))
		for _, f := range r.Failures {
			entries = append(entries, fmt.Sprintf("%s: %s", f.Bucket, oneLine(f.Reason)))
		}
		writeSection(bw, TitleFailureReasons, entries)
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// String renders the report as text.
func (r RunReport) String() string {
	var sb strings.Builder
	r.WriteTo(&sb)
	return sb.String()
}

func writeSection(w io.Writer, title string, entries []string) {
	fmt.Fprintf(w, "%s\n%s\n\n", title, strings.Repeat("-", len(title)))
	for i, e := range entries {
		fmt.Fprintf(w, "%d- %s\n", i+1, e)
	}
	fmt.Fprint(w, "\n\n")
}

// oneLine collapses tool output so each reason stays a single entry.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
