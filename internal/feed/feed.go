package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/dmorgan81/liblibstudio/internal/store"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// headConcurrency bounds parallel HeadObject calls.
const headConcurrency = 8

type Builder interface {
	Generate(context.Context) ([]byte, error)
}

type Generator struct {
	client  *s3.Client
	bucket  string
	siteURL string
}

func NewS3Generator(i *do.Injector) (Builder, error) {
	return &Generator{
		client:  do.MustInvoke[*s3.Client](i),
		bucket:  do.MustInvokeNamed[string](i, "bucket"),
		siteURL: do.MustInvokeNamed[string](i, "site_url"),
	}, nil
}

func published(key string) bool {
	return strings.HasSuffix(key, ".png") && !strings.HasPrefix(key, "latest") && !strings.Contains(key, "/")
}

func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed")
	log.Info("generating rss feed", "bucket", g.bucket)

	var (
		mu    sync.Mutex
		items []*feeds.Item
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(headConcurrency)

	pager := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(gctx)
		if err != nil {
			_ = group.Wait()
			return nil, err
		}

		objs := lo.Filter(page.Contents, func(o s3types.Object, _ int) bool {
			return published(aws.ToString(o.Key))
		})
		for _, obj := range objs {
			key := obj.Key
			group.Go(func() error {
				out, err := g.client.HeadObject(gctx, &s3.HeadObjectInput{
					Bucket: aws.String(g.bucket),
					Key:    key,
				})
				if err != nil {
					return err
				}
				it := Item(g.siteURL, store.UnescapeMetadata(out.Metadata), aws.ToTime(out.LastModified))
				mu.Lock()
				items = append(items, it)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return Render(g.siteURL, items, time.Now())
}

// Item describes one published image from its object metadata.
func Item(siteURL string, meta map[string]string, modified time.Time) *feeds.Item {
	base := strings.TrimRight(siteURL, "/")
	return &feeds.Item{
		Title:       meta["date"] + " - " + meta["prompt"],
		Link:        &feeds.Link{Href: base + "/" + meta["date"] + ".html"},
		Description: meta["prompt"],
		Id:          base + "/" + meta["date"] + ".png",
		Updated:     modified,
	}
}

// Render returns the feed with the newest items first.
func Render(siteURL string, items []*feeds.Item, updated time.Time) ([]byte, error) {
	feed := feeds.Feed{
		Title:       "Liblib Studio",
		Description: "Daily generated images",
		Link:        &feeds.Link{Href: siteURL},
		Updated:     updated,
		Items:       items,
	}
	feed.Sort(func(a, b *feeds.Item) bool {
		return a.Updated.After(b.Updated)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
