package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/dmorgan81/liblibstudio/internal/log"
)

// Caller is the part of liblib.Client the submitter and poller need.
type Caller interface {
	Call(ctx context.Context, uri string, payload any) (*liblib.Envelope, error)
}

type imageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type generateParams struct {
	Prompt    string    `json:"prompt"`
	ImgCount  int       `json:"imgCount"`
	Steps     int       `json:"steps"`
	ImageSize imageSize `json:"imageSize"`
}

type submitPayload struct {
	TemplateUUID   string         `json:"templateUuid"`
	GenerateParams generateParams `json:"generateParams"`
}

type submitData struct {
	GenerateUUID string `json:"generateUuid"`
}

type Submitter struct {
	client       Caller
	templateUUID string
}

func NewSubmitter(client Caller, templateUUID string) *Submitter {
	return &Submitter{client: client, templateUUID: templateUUID}
}

func (s *Submitter) payload(params Params) submitPayload {
	return submitPayload{
		TemplateUUID: s.templateUUID,
		GenerateParams: generateParams{
			Prompt:   params.Prompt,
			ImgCount: 1,
			Steps:    params.Steps,
			ImageSize: imageSize{
				Width:  params.Width,
				Height: params.Height,
			},
		},
	}
}

// Submit starts a job and returns its id.
func (s *Submitter) Submit(ctx context.Context, params Params) (string, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return "", err
	}

	logger := log.FromContextOrDiscard(ctx).WithGroup("submitter")
	logger.Info("submitting job", "steps", params.Steps, "width", params.Width, "height", params.Height)

	env, err := s.client.Call(ctx, liblib.SubmitURI, s.payload(params))
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if !env.OK() {
		logger.Warn("submission rejected", "response", env.String())
		return "", &ProtocolError{Raw: env.String(), Reason: "non-zero or missing code"}
	}

	var data submitData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			logger.Warn("unreadable submission data", "response", env.String(), "error", err)
			return "", &ProtocolError{Raw: env.String(), Reason: "unreadable data"}
		}
	}
	if data.GenerateUUID == "" {
		logger.Warn("submission without job id", "response", env.String())
		return "", &ProtocolError{Raw: env.String(), Reason: "missing generateUuid"}
	}

	logger.Info("job submitted", "job", data.GenerateUUID)
	return data.GenerateUUID, nil
}
