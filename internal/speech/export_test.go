package speech

import "context"

// Flush waits until every event queued before the call has been processed.
func (s *Session) Flush(ctx context.Context) error {
	return s.do(ctx, opFlush{})
}
