package store

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/log"
)

// Record is one generated image kept for the user's own archive.
type Record struct {
	Username string
	Mode     string
	Prompt   string
	PNG      []byte
	Duration time.Duration
	Time     time.Time
}

func (r Record) Key() string {
	return path.Join(r.Username, r.Mode, r.Time.Format("20060102_150405")+".png")
}

// Recorder archives records to Primary and, when that fails, to Fallback.
// Failures are logged only; archiving never fails a generation.
type Recorder struct {
	Primary  Uploader
	Fallback Uploader
}

func (r *Recorder) Save(ctx context.Context, rec Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	logger := log.FromContextOrDiscard(ctx).WithGroup("recorder").With("key", rec.Key())

	params := UploadParams{
		Name:        rec.Key(),
		Data:        rec.PNG,
		ContentType: "image/png",
		Metadata: map[string]string{
			"username": rec.Username,
			"mode":     rec.Mode,
			"prompt":   rec.Prompt,
			"duration": strconv.FormatFloat(rec.Duration.Seconds(), 'f', 2, 64),
		},
	}

	err := r.upload(ctx, r.Primary, params)
	if err == nil {
		logger.Info("record saved")
		return
	}
	logger.Warn("primary record store failed", "error", err)

	if err := r.upload(ctx, r.Fallback, params); err != nil {
		logger.Error("saving record failed", "error", err)
		return
	}
	logger.Info("record saved to fallback")
}

func (r *Recorder) upload(ctx context.Context, u Uploader, params UploadParams) error {
	if u == nil {
		return fmt.Errorf("store: no uploader configured")
	}
	return u.Upload(ctx, params)
}
