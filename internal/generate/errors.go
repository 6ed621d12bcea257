package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
)

var (
	ErrEmptyPrompt = errors.New("generate: prompt is required")
	ErrTimeout     = errors.New("generate: job did not finish in time")
	ErrMaterialize = errors.New("generate: result image unavailable")
)

// ProtocolError is a submission the service answered but did not accept.
// Raw is echoed to the user for diagnosis.
type ProtocolError struct {
	Raw    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("generate: submission rejected: %s: %s", e.Reason, e.Raw)
}

// JobError is a job the service reported as failed.
type JobError struct {
	ID     string
	Status Status
	Code   int
}

func (e *JobError) Error() string {
	return fmt.Sprintf("generate: job %s failed with status %d", e.ID, e.Code)
}

// Classify names the failure class of err for logs and metrics.
func Classify(err error) string {
	var (
		protocolErr *ProtocolError
		jobErr      *JobError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyPrompt):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, liblib.ErrTransport):
		return "canceled"
	case errors.As(err, &jobErr):
		return "job_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMaterialize):
		return "materialize"
	case errors.As(err, &protocolErr):
		return "protocol"
	case errors.Is(err, liblib.ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
