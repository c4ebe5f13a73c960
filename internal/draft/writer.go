package draft

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrExhausted is returned when every attempt within the retry budget was
// rejected by the judge. No email text is produced in that case.
var ErrExhausted = errors.New("draft attempts exhausted")

// Writer runs the draft/review loop: one initial attempt plus up to
// maxRetries corrections driven by judge feedback.
type Writer struct {
	drafter    *Drafter
	judge      *Judge
	maxRetries int
	logger     *zap.Logger
}

func NewWriter(drafter *Drafter, judge *Judge, maxRetries int, logger *zap.Logger) *Writer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Writer{drafter: drafter, judge: judge, maxRetries: maxRetries, logger: logger}
}

// Write produces an approved email body, along with the number of attempts
// spent. Returns ErrExhausted when the judge rejected every attempt.
func (w *Writer) Write(ctx context.Context, inst Instruction) (body string, attempts int, err error) {
	feedback := ""
	for attempts = 1; attempts <= w.maxRetries+1; attempts++ {
		body, err = w.drafter.Draft(ctx, inst, feedback)
		if err != nil {
			return "", attempts, err
		}

		review, err := w.judge.Review(ctx, inst, body)
		if err != nil {
			return "", attempts, err
		}
		if review.Approved {
			w.logger.Debug("draft approved", zap.Int("attempts", attempts))
			return body, attempts, nil
		}
		feedback = review.Feedback
	}

	attempts = w.maxRetries + 1
	w.logger.Warn("no draft survived review", zap.Int("attempts", attempts))
	return "", attempts, ErrExhausted
}
