package evidence

import (
	"context"
	"sync"
)

// fakeScraper 以內容類型作為 job id，依序回傳狀態
type fakeScraper struct {
	mu        sync.Mutex
	submitErr error
	statuses  map[string][]string
	records   map[string]map[string]any
	submits   []ContentType
	polls     map[string]int
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{
		statuses: map[string][]string{},
		records:  map[string]map[string]any{},
		polls:    map[string]int{},
	}
}

func (f *fakeScraper) SubmitJob(_ context.Context, _ string, ct ContentType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, ct)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-" + string(ct), nil
}

func (f *fakeScraper) GetStatus(_ context.Context, jobID string) (*JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.statuses[jobID]
	if len(seq) == 0 {
		seq = []string{StatusSucceeded}
	}
	i := f.polls[jobID]
	f.polls[jobID]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return &JobStatus{Status: seq[i], ResultLocation: "ds-" + jobID}, nil
}

func (f *fakeScraper) GetResult(_ context.Context, location string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[location]
	if !ok {
		return nil, fetchErr(KindJobFailed, nil)
	}
	return rec, nil
}
