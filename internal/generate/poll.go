package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/samber/lo"
	_ "golang.org/x/image/webp"
)

const (
	MaxPolls     = 60
	PollInterval = 2 * time.Second
)

type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusSucceeded
	StatusPartialSuccess
	StatusFailed
)

func StatusFromCode(code int) Status {
	switch code {
	case 2:
		return StatusSucceeded
	case 5:
		return StatusPartialSuccess
	case 3, 4:
		return StatusFailed
	default:
		return StatusPending
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusPartialSuccess:
		return "partial_success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusPartialSuccess
}

// Job is the latest view of a remote job; only the poller updates it.
type Job struct {
	ID       string
	Status   Status
	Code     int
	HasImage bool
	ImageURL string
}

type statusData struct {
	GenerateStatus *int `json:"generateStatus"`
	Images         []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"images"`
}

// Image is a materialized result.
type Image struct {
	Image  image.Image
	Data   []byte
	Format string
	URL    string
}

type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// QueryObserver sees the outcome of every status query.
type QueryObserver func(outcome string)

type Poller struct {
	client     Caller
	downloader Downloader
	maxPolls   int
	interval   time.Duration
	sleep      func(context.Context, time.Duration) error
	observe    QueryObserver
}

func NewPoller(client Caller, downloader Downloader) *Poller {
	return &Poller{
		client:     client,
		downloader: downloader,
		maxPolls:   MaxPolls,
		interval:   PollInterval,
		sleep:      sleep,
		observe:    func(string) {},
	}
}

func (p *Poller) WithObserver(observe QueryObserver) *Poller {
	p.observe = observe
	return p
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Poller) query(ctx context.Context, id string) (Job, bool) {
	job := Job{ID: id}
	env, err := p.client.Call(ctx, liblib.StatusURI, map[string]string{"generateUuid": id})
	if err != nil || !env.OK() {
		return job, false
	}
	var data statusData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return job, false
		}
	}
	if data.GenerateStatus != nil {
		job.Code = *data.GenerateStatus
		job.Status = StatusFromCode(job.Code)
	}
	if len(data.Images) > 0 {
		job.HasImage = true
		job.ImageURL = data.Images[0].ImageURL
	}
	return job, true
}

// Poll waits for the job to finish and returns its first image. Failed
// queries count against the same budget as pending ones.
func (p *Poller) Poll(ctx context.Context, id string) (Image, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("poller").With("job", id)

	for attempt := 1; attempt <= p.maxPolls; attempt++ {
		job, ok := p.query(ctx, id)
		switch {
		case !ok:
			p.observe("error")
			logger.Debug("status query failed", "attempt", attempt)
		case job.Status.Done() && job.HasImage:
			p.observe(job.Status.String())
			logger.Info("job finished", "attempt", attempt, "status", job.Status.String())
			return p.materialize(ctx, job)
		case job.Status == StatusFailed:
			p.observe(job.Status.String())
			logger.Warn("job failed", "attempt", attempt, "code", job.Code)
			return Image{}, &JobError{ID: id, Status: job.Status, Code: job.Code}
		default:
			p.observe(lo.Ternary(job.Status == StatusUnknown, StatusPending, job.Status).String())
			logger.Debug("job pending", "attempt", attempt, "code", job.Code)
		}

		if attempt == p.maxPolls {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return Image{}, err
		}
	}

	logger.Warn("job timed out", "attempts", p.maxPolls)
	return Image{}, ErrTimeout
}

func (p *Poller) materialize(ctx context.Context, job Job) (Image, error) {
	if job.ImageURL == "" {
		return Image{}, fmt.Errorf("%w: job %s listed an image without a url", ErrMaterialize, job.ID)
	}
	data, err := p.downloader.Download(ctx, job.ImageURL)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrMaterialize, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: decode %s: %w", ErrMaterialize, job.ImageURL, err)
	}
	return Image{Image: img, Data: data, Format: format, URL: job.ImageURL}, nil
}
