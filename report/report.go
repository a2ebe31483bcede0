// Package report renders a JSON summary of one invocation's runs.
package report

import (
	"io"
	"sort"

	"github.com/sugawarayuuta/sonnet"

	"rculitmus/litmus"
)

// Run is one scenario run in the summary.
type Run struct {
	Index       int    `json:"index"`
	Variant     string `json:"variant"`
	Engine      string `json:"engine"`
	Faults      string `json:"faults"`
	Rx          int32  `json:"rx"`
	Ry          int32  `json:"ry"`
	Outcome     string `json:"outcome"`
	Fingerprint string `json:"fingerprint"`
	DurationUS  int64  `json:"duration_us"`
	Error       string `json:"error,omitempty"`
}

// Summary is the whole invocation.
type Summary struct {
	Session      string         `json:"session"`
	Runs         []Run          `json:"runs"`
	Outcomes     map[string]int `json:"outcomes"`
	Fingerprints []string       `json:"fingerprints"`
	Stable       bool           `json:"stable"`
	Passed       bool           `json:"passed"`
}

// Build summarizes results. errs[i] is the error that came with
// results[i]; a nil result is a run that failed before observing anything.
func Build(session string, results []*litmus.Result, errs []error) Summary {
	s := Summary{
		Session:  session,
		Runs:     make([]Run, 0, len(results)),
		Outcomes: make(map[string]int),
		Passed:   true,
	}
	seen := make(map[string]bool)

	for i, res := range results {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		if err != nil {
			s.Passed = false
		}
		if res == nil {
			s.Runs = append(s.Runs, Run{Index: i, Error: errText(err)})
			continue
		}
		s.Runs = append(s.Runs, Run{
			Index:       i,
			Variant:     res.Variant.String(),
			Engine:      res.Engine,
			Faults:      res.Faults.String(),
			Rx:          res.Rx,
			Ry:          res.Ry,
			Outcome:     res.Outcome.String(),
			Fingerprint: res.Fingerprint,
			DurationUS:  res.Duration.Microseconds(),
			Error:       errText(err),
		})
		s.Outcomes[res.Outcome.String()]++
		if !seen[res.Fingerprint] {
			seen[res.Fingerprint] = true
			s.Fingerprints = append(s.Fingerprints, res.Fingerprint)
		}
	}
	sort.Strings(s.Fingerprints)
	s.Stable = len(s.Fingerprints) <= 1
	return s
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Encode writes s as one line of JSON.
func Encode(w io.Writer, s Summary) error {
	data, err := sonnet.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
