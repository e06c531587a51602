package status

import (
	"sync"

	"github.com/danmuck/rangectl/internal/suite"
)

const defaultRetainedRuns = 50

// Recorder keeps the most recent suite reports in memory for the status
// API. Persistence is out of scope; a harness restart starts a fresh
// history.
type Recorder struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]suite.Report
	limit int
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRetainedRuns
	}
	return &Recorder{
		byID:  make(map[string]suite.Report),
		limit: limit,
	}
}

func (r *Recorder) Record(report suite.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[report.RunID]; !exists {
		r.order = append(r.order, report.RunID)
	}
	r.byID[report.RunID] = report
	for len(r.order) > r.limit {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Recorder) Run(id string) (suite.Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.byID[id]
	return report, ok
}

// Runs lists retained reports newest first.
func (r *Recorder) Runs() []suite.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]suite.Report, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.byID[r.order[i]])
	}
	return out
}

func (r *Recorder) Latest() (suite.Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return suite.Report{}, false
	}
	return r.byID[r.order[len(r.order)-1]], true
}
