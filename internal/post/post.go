package post

import "context"

type Params struct {
	Date   string
	Prompt string
	URL    string
}

type Poster interface {
	Post(context.Context, Params) error
}

type NopPoster struct{}

func (NopPoster) Post(context.Context, Params) error {
	return nil
}
