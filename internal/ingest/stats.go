package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Failure is a candidate that could not be ingested. It is kept for manual retry.
type Failure struct {
	Candidate string `json:"candidate"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

// Stats counts the outcome of one ingestion run.
type Stats struct {
	Source    string    `json:"source"`
	Attempted int       `json:"attempted"`
	Added     int       `json:"added"`
	Duplicate int       `json:"duplicate"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (s *Stats) addFailure(candidate string, err error) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{Candidate: candidate, Err: err, Message: err.Error()})
}

// Merge adds the counts and failures of other into s.
func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	s.Attempted += other.Attempted
	s.Added += other.Added
	s.Duplicate += other.Duplicate
	s.Failed += other.Failed
	s.Failures = append(s.Failures, other.Failures...)
}

// String returns a one-line summary for logs and CLI output.
func (s *Stats) String() string {
	return fmt.Sprintf("%s: attempted=%d added=%d duplicate=%d failed=%d",
		s.Source, s.Attempted, s.Added, s.Duplicate, s.Failed)
}

// Report aggregates a multi-source batch.
type Report struct {
	Sources map[string]*Stats `json:"sources"`
	Errors  map[string]error  `json:"-"`
	Total   Stats             `json:"total"`
}

func newReport() *Report {
	return &Report{
		Sources: make(map[string]*Stats),
		Errors:  make(map[string]error),
		Total:   Stats{Source: "total"},
	}
}

// SourceNames returns the names of the sources that ran, sorted.
func (r *Report) SourceNames() []string {
	names := make([]string, 0, len(r.Sources))
	for name := range r.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err joins the run errors of all sources, or returns nil.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Errors[name]))
	}
	return errors.Join(errs...)
}

// String renders one line per source followed by the total.
func (r *Report) String() string {
	var b strings.Builder
	for _, name := range r.SourceNames() {
		b.WriteString(r.Sources[name].String())
		b.WriteByte('\n')
	}
	b.WriteString(r.Total.String())
	return b.String()
}
