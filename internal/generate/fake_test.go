package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/stretchr/testify/require"
)

type call struct {
	uri     string
	payload any
}

type scripted struct {
	body string
	err  error
}

// fakeCaller replays scripted responses per URI; the last entry repeats.
type fakeCaller struct {
	mu      sync.Mutex
	scripts map[string][]scripted
	calls   []call
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{scripts: map[string][]scripted{}}
}

func (f *fakeCaller) on(uri string, responses ...scripted) *fakeCaller {
	f.scripts[uri] = append(f.scripts[uri], responses...)
	return f
}

func (f *fakeCaller) Call(_ context.Context, uri string, payload any) (*liblib.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{uri, payload})

	queue := f.scripts[uri]
	if len(queue) == 0 {
		return nil, errors.New("no script for " + uri)
	}
	next := queue[0]
	if len(queue) > 1 {
		f.scripts[uri] = queue[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	var env liblib.Envelope
	if err := json.Unmarshal([]byte(next.body), &env); err != nil {
		return nil, err
	}
	env.Raw = []byte(next.body)
	return &env, nil
}

func (f *fakeCaller) count(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.uri == uri {
			n++
		}
	}
	return n
}

type fakeDownloader struct {
	data  []byte
	err   error
	calls []string
}

func (d *fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	d.calls = append(d.calls, url)
	return d.data, d.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pending() scripted {
	return scripted{body: `{"code":0,"data":{"generateStatus":1}}`}
}

func succeeded(url string) scripted {
	return scripted{body: `{"code":0,"data":{"generateStatus":2,"images":[{"imageUrl":"` + url + `"}]}}`}
}

// testPoller sleeps for nothing and counts the sleeps.
func testPoller(c Caller, d Downloader) (*Poller, *int) {
	slept := 0
	p := NewPoller(c, d)
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		slept++
		return ctx.Err()
	}
	return p, &slept
}
