package generate

import (
	"context"
	"net/http"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/dmorgan81/liblibstudio/internal/log"
)

type Result struct {
	JobID   string
	Image   Image
	Elapsed time.Duration
}

func (r Result) Seconds() float64 {
	return r.Elapsed.Seconds()
}

type Generator interface {
	Generate(context.Context, Params) (Result, error)
}

// Factory builds a Generator bound to one session's credentials.
type Factory func(liblib.Credentials) Generator

// Orchestrator runs one submit and poll cycle per call. It keeps no state
// between calls and never retries a failed cycle.
type Orchestrator struct {
	submitter *Submitter
	poller    *Poller
	now       func() time.Time
}

func NewOrchestrator(submitter *Submitter, poller *Poller) *Orchestrator {
	return &Orchestrator{submitter: submitter, poller: poller, now: time.Now}
}

func NewLiblibGenerator(hc *http.Client, domain string, creds liblib.Credentials, observe QueryObserver) *Orchestrator {
	client := liblib.NewClient(hc, domain, creds)
	poller := NewPoller(client, client)
	if observe != nil {
		poller = poller.WithObserver(observe)
	}
	return NewOrchestrator(NewSubmitter(client, creds.TemplateUUID), poller)
}

func (o *Orchestrator) Generate(ctx context.Context, params Params) (Result, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("generator")
	start := o.now()

	id, err := o.submitter.Submit(ctx, params)
	if err != nil {
		logger.Warn("submission failed", "class", Classify(err), "error", err)
		return Result{}, err
	}

	img, err := o.poller.Poll(ctx, id)
	if err != nil {
		logger.Warn("polling failed", "job", id, "class", Classify(err), "error", err)
		return Result{}, err
	}

	res := Result{JobID: id, Image: img, Elapsed: o.now().Sub(start)}
	logger.Info("image generated", "job", id, "seconds", res.Seconds(), "format", img.Format)
	return res, nil
}
