package evidence

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// waitForJob 以固定間隔輪詢直到工作結束、超過次數或 ctx 取消
func waitForJob(ctx context.Context, client ScrapeClient, jobID string, interval time.Duration, maxAttempts int) (*JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := client.GetStatus(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &FetchError{Kind: KindJobTimedOut, JobID: jobID, Err: ctxErr}
			}
			var fe *FetchError
			if errors.As(err, &fe) && fe.Kind != KindNetwork {
				fe.JobID = jobID
				return nil, fe
			}
			// 單次查詢的網路錯誤不終止輪詢
		} else {
			switch status.Status {
			case StatusSucceeded:
				return status, nil
			case StatusTimedOut:
				return nil, &FetchError{Kind: KindJobTimedOut, JobID: jobID, Status: status.Status}
			case StatusFailed, StatusAborted:
				return nil, &FetchError{Kind: KindJobFailed, JobID: jobID, Status: status.Status}
			}
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &FetchError{Kind: KindJobTimedOut, JobID: jobID, Err: ctx.Err()}
		case <-ticker.C:
		}
	}

	return nil, &FetchError{
		Kind:  KindJobTimedOut,
		JobID: jobID,
		Err:   eris.Errorf("scraper: job still running after %d polls", maxAttempts),
	}
}
