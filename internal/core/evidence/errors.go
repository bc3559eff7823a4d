package evidence

import (
	"errors"
	"fmt"
)

// ErrorKind 爬取失敗類型
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindJobFailed   ErrorKind = "job_failed"
	KindJobTimedOut ErrorKind = "job_timed_out"
	KindNetwork     ErrorKind = "network"
)

// FetchError 擷取貼文內容失敗
type FetchError struct {
	Kind   ErrorKind
	JobID  string
	Status string
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("evidence fetch %s", e.Kind)
	if e.JobID != "" {
		msg += fmt.Sprintf(" (job %s", e.JobID)
		if e.Status != "" {
			msg += ", status " + e.Status
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable 逾時、限流與網路錯誤可由呼叫端重試；工作失敗不可
func (e *FetchError) Retryable() bool {
	return e.Kind != KindJobFailed
}

// IsKind 判斷錯誤鏈中是否為指定類型的 FetchError
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

func fetchErr(kind ErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}
