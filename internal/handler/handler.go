package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/feed"
	"github.com/dmorgan81/liblibstudio/internal/generate"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/page"
	"github.com/dmorgan81/liblibstudio/internal/post"
	"github.com/dmorgan81/liblibstudio/internal/prompt"
	"github.com/dmorgan81/liblibstudio/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type Input struct {
	Date   string `json:"date,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Steps  int    `json:"steps,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (i Input) toParams() generate.Params {
	return generate.Params{
		Prompt: i.Prompt,
		Steps:  i.Steps,
		Width:  i.Width,
		Height: i.Height,
	}.WithDefaults()
}

type Output struct {
	Date    string  `json:"date"`
	Prompt  string  `json:"prompt"`
	JobID   string  `json:"job_id"`
	Seconds float64 `json:"seconds"`
	Image   string  `json:"image"`
}

type randomizer interface {
	Randomize(context.Context) (string, error)
}

type Handler struct {
	randomizer  randomizer
	generator   generate.Generator
	uploader    store.Uploader
	invalidator store.Invalidator
	templator   *page.Templator
	feed        feed.Builder
	poster      post.Poster
	siteURL     string
	now         func() time.Time
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return &Handler{
		randomizer:  do.MustInvoke[*prompt.Randomizer](i),
		generator:   do.MustInvoke[generate.Generator](i),
		uploader:    do.MustInvoke[store.Uploader](i),
		invalidator: do.MustInvoke[store.Invalidator](i),
		templator:   do.MustInvoke[*page.Templator](i),
		feed:        do.MustInvoke[feed.Builder](i),
		poster:      do.MustInvoke[post.Poster](i),
		siteURL:     strings.TrimRight(do.MustInvokeNamed[string](i, "site_url"), "/"),
		now:         time.Now,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("input", input)
	log.Info("handling lambda invocation")

	if strings.TrimSpace(input.Prompt) == "" {
		p, err := h.randomizer.Randomize(ctx)
		if err != nil {
			return Output{}, err
		}
		input.Prompt = p
	}

	latest := false
	if input.Date == "" {
		input.Date = h.now().UTC().Format("20060102")
		latest = true
	}

	params := input.toParams()
	res, err := h.generator.Generate(ctx, params)
	if err != nil {
		return Output{}, fmt.Errorf("generate (%s): %w", generate.Classify(err), err)
	}

	img, err := page.EncodePNG(res.Image.Image)
	if err != nil {
		return Output{}, err
	}

	seconds := fmt.Sprintf("%.2f", res.Seconds())
	html, err := h.templator.Template(ctx, "latest", page.Params{
		Date:    input.Date,
		Image:   input.Date + ".png",
		Prompt:  params.Prompt,
		Size:    fmt.Sprintf("%dx%d", params.Width, params.Height),
		Seconds: seconds,
	})
	if err != nil {
		return Output{}, err
	}

	metadata := map[string]string{
		"date":    input.Date,
		"prompt":  params.Prompt,
		"job":     res.JobID,
		"seconds": seconds,
	}
	names := []string{input.Date}
	if latest {
		names = append(names, "latest")
	}
	for _, name := range names {
		uploads := []store.UploadParams{
			{Name: name + ".png", Data: img, ContentType: "image/png", Metadata: metadata},
			{Name: name + ".html", Data: html, ContentType: "text/html", Metadata: metadata},
		}
		for _, u := range uploads {
			if err := h.uploader.Upload(ctx, u); err != nil {
				return Output{}, err
			}
		}
	}

	rss, err := h.feed.Generate(ctx)
	if err != nil {
		return Output{}, err
	}
	if err := h.uploader.Upload(ctx, store.UploadParams{Name: "feed.rss", Data: rss, ContentType: "application/rss+xml"}); err != nil {
		return Output{}, err
	}

	paths := lo.FlatMap(names, func(name string, _ int) []string {
		return []string{"/" + name + ".png", "/" + name + ".html"}
	})
	paths = append(paths, "/feed.rss")
	if err := h.invalidator.Invalidate(ctx, paths); err != nil {
		return Output{}, err
	}

	if err := h.poster.Post(ctx, post.Params{
		Date:   input.Date,
		Prompt: params.Prompt,
		URL:    h.siteURL + "/" + input.Date + ".html",
	}); err != nil {
		log.Warn("announcing image failed", "error", err)
	}

	return Output{
		Date:    input.Date,
		Prompt:  params.Prompt,
		JobID:   res.JobID,
		Seconds: res.Seconds(),
		Image:   input.Date + ".png",
	}, nil
}
