package inject

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/liblibstudio/internal/config"
	"github.com/dmorgan81/liblibstudio/internal/feed"
	"github.com/dmorgan81/liblibstudio/internal/generate"
	"github.com/dmorgan81/liblibstudio/internal/handler"
	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/metrics"
	"github.com/dmorgan81/liblibstudio/internal/page"
	"github.com/dmorgan81/liblibstudio/internal/param"
	"github.com/dmorgan81/liblibstudio/internal/post"
	"github.com/dmorgan81/liblibstudio/internal/prompt"
	"github.com/dmorgan81/liblibstudio/internal/session"
	"github.com/dmorgan81/liblibstudio/internal/store"
	"github.com/dmorgan81/liblibstudio/internal/web"
	"github.com/samber/do"
)

func Setup(ctx context.Context, cfg config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*slog.Logger](injector, log)

	do.ProvideNamedValue[string](injector, "addr", cfg.Addr)
	do.ProvideNamedValue[string](injector, "template_uuid", cfg.TemplateUUID)
	do.ProvideNamedValue[string](injector, "bucket", cfg.Bucket)
	do.ProvideNamedValue[string](injector, "distribution", cfg.Distribution)
	do.ProvideNamedValue[string](injector, "subreddit", cfg.Subreddit)
	do.ProvideNamedValue[string](injector, "site_url", cfg.SiteURL)

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, &http.Client{Timeout: liblib.RequestTimeout})

	do.Provide[*metrics.Collector](injector, metrics.NewCollector)
	do.Provide[*page.Templator](injector, page.NewTemplator)
	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)

	provideStudio(injector, cfg)
	providePublisher(ctx, injector, cfg)

	return injector
}

// provideStudio wires the interactive web studio. Every session builds its own
// generator from the credentials entered at login.
func provideStudio(injector *do.Injector, cfg config.Config) {
	do.Provide[generate.Factory](injector, func(i *do.Injector) (generate.Factory, error) {
		hc := do.MustInvoke[*http.Client](i)
		collector := do.MustInvoke[*metrics.Collector](i)
		return func(creds liblib.Credentials) generate.Generator {
			return generate.NewLiblibGenerator(hc, cfg.Domain, creds, collector.RecordStatusQuery)
		}, nil
	})
	do.Provide[*session.Store](injector, func(i *do.Injector) (*session.Store, error) {
		return session.NewStore(do.MustInvoke[generate.Factory](i)), nil
	})
	do.Provide[*store.Recorder](injector, func(i *do.Injector) (*store.Recorder, error) {
		var primary store.Uploader = &store.FileUploader{Root: cfg.RecordsDir}
		if cfg.Bucket != "" {
			primary = do.MustInvoke[store.Uploader](i)
		}
		return &store.Recorder{
			Primary:  primary,
			Fallback: &store.FileUploader{Root: cfg.RecordsFallbackDir},
		}, nil
	})
	do.Provide[*web.Server](injector, web.NewServer)
}

// providePublisher wires the scheduled Lambda that publishes one image a day.
// Secrets come from Parameter Store.
func providePublisher(ctx context.Context, injector *do.Injector, cfg config.Config) {
	fetch := func(name string) func(*do.Injector) (string, error) {
		return func(i *do.Injector) (string, error) {
			return do.MustInvoke[param.Fetcher](i).Fetch(ctx, name)
		}
	}
	do.ProvideNamed[string](injector, "reddit_client_id", fetch(cfg.RedditIDParam))
	do.ProvideNamed[string](injector, "reddit_client_secret", fetch(cfg.RedditSecretParam))
	do.ProvideNamed[string](injector, "reddit_username", fetch(cfg.RedditUserParam))
	do.ProvideNamed[string](injector, "reddit_password", fetch(cfg.RedditPassParam))
	do.ProvideNamed[[]string](injector, "prompts", func(i *do.Injector) ([]string, error) {
		return do.MustInvoke[param.Fetcher](i).FetchAll(ctx, cfg.PromptsParam)
	})

	do.Provide[generate.Generator](injector, func(i *do.Injector) (generate.Generator, error) {
		fetcher := do.MustInvoke[param.Fetcher](i)
		creds, err := param.LiblibCredentials(ctx, fetcher, cfg.AccessKeyParam, cfg.SecretKeyParam, cfg.TemplateUUID)
		if err != nil {
			return nil, err
		}
		collector := do.MustInvoke[*metrics.Collector](i)
		return generate.NewLiblibGenerator(do.MustInvoke[*http.Client](i), cfg.Domain, creds, collector.RecordStatusQuery), nil
	})
	do.Provide[*prompt.Randomizer](injector, prompt.NewRandomizer)
	do.Provide[store.Uploader](injector, func(i *do.Injector) (store.Uploader, error) {
		return store.NewS3Uploader(i)
	})
	do.Provide[store.Invalidator](injector, func(i *do.Injector) (store.Invalidator, error) {
		if cfg.Distribution == "" {
			return store.NopInvalidator{}, nil
		}
		return store.NewCloudFrontInvalidator(i)
	})
	do.Provide[feed.Builder](injector, feed.NewS3Generator)
	do.Provide[post.Poster](injector, func(i *do.Injector) (post.Poster, error) {
		if cfg.Subreddit == "" {
			return post.NopPoster{}, nil
		}
		return post.NewRedditPoster(i)
	})
	do.Provide[*handler.Handler](injector, handler.NewHandler)
}
