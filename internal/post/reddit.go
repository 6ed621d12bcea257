package post

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/vartanbeno/go-reddit/v2/reddit"
)

type RedditPoster struct {
	client    *reddit.Client
	subreddit string
}

func NewRedditPoster(i *do.Injector) (Poster, error) {
	creds := reddit.Credentials{
		ID:       do.MustInvokeNamed[string](i, "reddit_client_id"),
		Secret:   do.MustInvokeNamed[string](i, "reddit_client_secret"),
		Username: do.MustInvokeNamed[string](i, "reddit_username"),
		Password: do.MustInvokeNamed[string](i, "reddit_password"),
	}
	subreddit := do.MustInvokeNamed[string](i, "subreddit")

	client, err := reddit.NewClient(creds, reddit.WithUserAgent(userAgent(creds.Username)))
	if err != nil {
		return nil, err
	}
	return &RedditPoster{client, subreddit}, nil
}

func userAgent(username string) string {
	revision := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		revision = lo.FindOrElse(info.Settings, debug.BuildSetting{Value: "unknown"}, func(s debug.BuildSetting) bool {
			return s.Key == "vcs.revision"
		}).Value
	}
	return fmt.Sprintf("web:liblibstudio:%s (by /u/%s)", revision, username)
}

func Title(params Params) string {
	return fmt.Sprintf("%s - %s", params.Date, params.Prompt)
}

func (p *RedditPoster) Post(ctx context.Context, params Params) error {
	log.FromContextOrDiscard(ctx).WithGroup("reddit").Info("posting to reddit", "subreddit", p.subreddit)
	_, _, err := p.client.Post.SubmitLink(ctx, reddit.SubmitLinkRequest{
		Subreddit:   p.subreddit,
		Title:       Title(params),
		URL:         params.URL,
		SendReplies: lo.ToPtr(false),
	})
	return err
}
