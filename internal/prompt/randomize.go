package prompt

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

var ErrNoPrompts = errors.New("prompt: no prompts configured")

type Randomizer struct {
	prompts []string
	mu      sync.Mutex
	rnd     *rand.Rand
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	return New(do.MustInvokeNamed[[]string](i, "prompts"), time.Now().UTC().UnixNano()), nil
}

// New keeps the non-blank entries of prompts.
func New(prompts []string, seed int64) *Randomizer {
	prompts = lo.FilterMap(prompts, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
	return &Randomizer{prompts: prompts, rnd: rand.New(rand.NewSource(seed))}
}

func (r *Randomizer) Randomize(ctx context.Context) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("randomizer")
	log.Info("picking random prompt", "choices", len(r.prompts))
	if len(r.prompts) == 0 {
		return "", ErrNoPrompts
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prompts[r.rnd.Intn(len(r.prompts))], nil
}
