package param

import (
	"context"
	"errors"
	"strings"

	"github.com/dmorgan81/liblibstudio/internal/liblib"
)

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
	FetchAll(context.Context, string) ([]string, error)
}

// LiblibCredentials reads the publisher's API keys. Errors from both lookups
// are joined.
func LiblibCredentials(ctx context.Context, f Fetcher, accessKeyParam, secretKeyParam, templateUUID string) (liblib.Credentials, error) {
	ak, akErr := f.Fetch(ctx, accessKeyParam)
	sk, skErr := f.Fetch(ctx, secretKeyParam)
	if err := errors.Join(akErr, skErr); err != nil {
		return liblib.Credentials{}, err
	}

	creds := liblib.Credentials{
		AccessKey:    strings.TrimSpace(ak),
		SecretKey:    strings.TrimSpace(sk),
		TemplateUUID: templateUUID,
	}
	if err := creds.Validate(); err != nil {
		return liblib.Credentials{}, err
	}
	return creds, nil
}
