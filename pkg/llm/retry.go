package llm

import (
	"context"
	"time"
)

// Retry settings for transient backend failures: bounded attempts with
// exponential backoff. Context cancellation is never retried.
const (
	MaxAttempts = 3
	baseBackoff = 250 * time.Millisecond
)

// CompleteWithRetry calls Complete up to MaxAttempts times with exponential
// backoff between attempts. The last error is returned on exhaustion.
func CompleteWithRetry(ctx context.Context, c Client, req Request) (string, error) {
	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		out, err := c.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	return "", lastErr
}
