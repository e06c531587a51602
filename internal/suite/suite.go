// Package suite runs the ranging test cases against a registered lab and
// collects per-case results.
package suite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/lab"
)

// Case is one self-contained ranging scenario. Run must leave no sessions
// behind on success; the runner clears leftovers regardless.
type Case struct {
	Name string
	Run  func(ctx context.Context, l *lab.Lab) error
}

type CaseResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Report struct {
	RunID    string       `json:"run_id"`
	Lab      string       `json:"lab"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Results  []CaseResult `json:"results"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
}

func (r Report) OK() bool {
	return r.Failed == 0 && len(r.Results) > 0
}

// Filter selects registered cases whose name contains the pattern. An empty
// pattern selects everything.
func Filter(cases []Case, pattern string) []Case {
	if pattern == "" {
		return cases
	}
	var out []Case
	for _, c := range cases {
		if strings.Contains(c.Name, pattern) {
			out = append(out, c)
		}
	}
	return out
}

// Run executes the cases in order. Every node is checked for an enabled UWB
// stack up front; each case is bracketed with logcat markers and followed by
// a session sweep so one case's leftovers cannot leak into the next.
func Run(ctx context.Context, l *lab.Lab, cases []Case) (Report, error) {
	report := Report{
		RunID:   uuid.NewString(),
		Lab:     l.Config().Name,
		Started: time.Now(),
	}
	runLog := log.With().Str("run_id", report.RunID).Logger()

	cfg := l.Config()
	for _, node := range l.Nodes() {
		if err := node.ADB.SetScreenRotationLandscape(true); err != nil {
			log.Warn().Str("device", node.ID).Err(err).Msg("screen rotation failed")
		}
		if err := lab.EnsureCountryCode(ctx, node, cfg.CountryCode, cfg.Timeouts.Enable.Std()); err != nil {
			return report, fmt.Errorf("preflight on %s: %w", node.ID, err)
		}
	}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := runCase(ctx, l, c)
		report.Results = append(report.Results, result)
		if result.Passed {
			report.Passed++
			runLog.Info().Str("case", c.Name).Dur("duration", result.Duration).Msg("case passed")
		} else {
			report.Failed++
			runLog.Error().Str("case", c.Name).Str("error", result.Error).Msg("case failed")
		}
	}

	report.Finished = time.Now()
	return report, nil
}

func runCase(ctx context.Context, l *lab.Lab, c Case) CaseResult {
	for _, node := range l.Nodes() {
		if err := node.Ranging.LogMarker(fmt.Sprintf("*** TEST START: %s ***", c.Name)); err != nil {
			log.Warn().Str("device", node.ID).Err(err).Msg("start marker failed")
		}
	}
	defer func() {
		for _, node := range l.Nodes() {
			node.Ranging.ClearAllSessions()
			// Airplane mode is the one environment toggle a case may leave
			// flipped; force it back off so the next case starts clean.
			if err := lab.SetAirplaneMode(ctx, node, false); err != nil {
				log.Warn().Str("device", node.ID).Err(err).Msg("airplane reset failed")
			}
			if err := node.Ranging.LogMarker(fmt.Sprintf("*** TEST END: %s ***", c.Name)); err != nil {
				log.Warn().Str("device", node.ID).Err(err).Msg("end marker failed")
			}
		}
	}()

	start := time.Now()
	err := c.Run(ctx, l)
	result := CaseResult{Name: c.Name, Passed: err == nil, Duration: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
