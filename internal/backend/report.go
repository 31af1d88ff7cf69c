package backend

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"visiond/pkg/types"
)

// Setup report statuses.
const (
	ReportStarting  = "starting"
	ReportSucceeded = "succeeded"
	ReportFailed    = "failed"
)

// Report describes a setup run.
type Report struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Status      string
	Phase       string
	Logs        []string
}

// Result converts the report to its wire form.
func (r Report) Result() types.SetupResult {
	res := types.SetupResult{
		Status: r.Status,
		Phase:  r.Phase,
		Logs:   strings.Join(r.Logs, "\n"),
	}
	if !r.StartedAt.IsZero() {
		res.StartedAt = r.StartedAt.UTC().Format(time.RFC3339)
	}
	if !r.CompletedAt.IsZero() {
		res.CompletedAt = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return res
}

// recorder accumulates a Report while setup runs; readers may snapshot it
// concurrently.
type recorder struct {
	mu sync.Mutex
	r  Report
}

func (rec *recorder) begin() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.r = Report{StartedAt: time.Now(), Status: ReportStarting}
}

func (rec *recorder) logf(format string, args ...any) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.r.Logs = append(rec.r.Logs, fmt.Sprintf(format, args...))
}

func (rec *recorder) finish(phase string, err error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.r.CompletedAt = time.Now()
	if err != nil {
		rec.r.Status = ReportFailed
		rec.r.Phase = phase
		rec.r.Logs = append(rec.r.Logs, err.Error())
		return
	}
	rec.r.Status = ReportSucceeded
}

func (rec *recorder) snapshot() Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	r := rec.r
	r.Logs = append([]string(nil), rec.r.Logs...)
	return r
}
