package page

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"sync"

	"github.com/dmorgan81/liblibstudio/internal/log"
	"github.com/samber/do"
)

//go:embed assets/*.html
var assets embed.FS

// Params fills the published page of the daily image.
type Params struct {
	Date    string
	Image   string
	Prompt  string
	Size    string
	Seconds string
}

type Message struct {
	User  bool
	Text  string
	Image *Artifact
}

type Artifact struct {
	ID     string
	Prompt string
}

// Studio fills the chat, basic and advanced layouts.
type Studio struct {
	Username string
	Mode     string
	Modes    []string
	History  []Message
	Latest   *Artifact
	Prompt   string
	Error    string
	Form     AdvancedForm
}

type AdvancedForm struct {
	Steps    int
	Width    int
	Height   int
	CFGScale int
	Sampler  string
	Sizes    []int
	Samplers []string
}

type Login struct {
	Name         string
	TemplateUUID string
	Error        string
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator(*do.Injector) (*Templator, error) {
	return &Templator{}, nil
}

func (g *Templator) Template(ctx context.Context, name string, data any) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("").ParseFS(assets, "assets/*.html"))
	})

	log := log.FromContextOrDiscard(ctx).WithGroup("templator")
	log.Debug("rendering page", "name", name)

	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
