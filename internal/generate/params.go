package generate

import (
	"strings"
)

const (
	DefaultSteps  = 30
	DefaultWidth  = 1024
	DefaultHeight = 1024
)

// Params is the one shape every layout hands to a Generator. Sampler and
// CFGScale are kept for records; the ultra endpoint takes neither.
type Params struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Sampler  string  `json:"sampler,omitempty"`
	CFGScale float64 `json:"cfg_scale,omitempty"`
}

func (p Params) WithDefaults() Params {
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.Steps <= 0 {
		p.Steps = DefaultSteps
	}
	if p.Width <= 0 {
		p.Width = DefaultWidth
	}
	if p.Height <= 0 {
		p.Height = DefaultHeight
	}
	return p
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}
