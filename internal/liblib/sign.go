package liblib

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credentials are captured once per session and never change afterwards.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	TemplateUUID string
}

func (c Credentials) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AccessKey) == "" {
		errs = append(errs, errors.New("access key is required"))
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if strings.TrimSpace(c.TemplateUUID) == "" {
		errs = append(errs, errors.New("template uuid is required"))
	}
	return errors.Join(errs...)
}

// SignedRequest carries the authentication metadata for one call. It travels
// as query parameters, never in the body.
type SignedRequest struct {
	URI       string
	AccessKey string
	Timestamp string
	Nonce     string
	Signature string
}

func (r SignedRequest) Query() url.Values {
	q := url.Values{}
	q.Set("AccessKey", r.AccessKey)
	q.Set("Signature", r.Signature)
	q.Set("Timestamp", r.Timestamp)
	q.Set("SignatureNonce", r.Nonce)
	return q
}

// Signature computes the url-safe, unpadded base64 HMAC-SHA1 of
// "uri&timestamp&nonce" keyed by secretKey. The body is not signed.
func Signature(secretKey, uri, timestamp, nonce string) string {
	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(strings.Join([]string{uri, timestamp, nonce}, "&")))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

type Signer struct {
	accessKey string
	secretKey string
	now       func() time.Time
	nonce     func() string
}

func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		now:       time.Now,
		nonce:     uuid.NewString,
	}
}

func (s *Signer) Sign(uri string) SignedRequest {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	nonce := s.nonce()
	return SignedRequest{
		URI:       uri,
		AccessKey: s.accessKey,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: Signature(s.secretKey, uri, timestamp, nonce),
	}
}
