package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Response is the raw outcome of a request. Callers decode Body themselves.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Latency    time.Duration
}

type HTTPClient interface {
	Get(ctx context.Context, endpoint string, query map[string]string) (*Response, error)
}

type Option func(*RestyClient)

// WithHeader sets a header sent on every request.
func WithHeader(key, value string) Option {
	return func(rc *RestyClient) {
		rc.client.SetHeader(key, value)
	}
}

// WithRedactedParam masks the value of the named query parameter in returned errors.
func WithRedactedParam(name string) Option {
	return func(rc *RestyClient) {
		rc.redacted = append(rc.redacted, name)
	}
}

type RestyClient struct {
	client   *resty.Client
	redacted []string
}

func New(baseURL string, timeout time.Duration, opts ...Option) HTTPClient {
	rc := &RestyClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Get issues a GET request. Non-2xx statuses are not errors; err is set only when no
// response was received.
func (rc *RestyClient) Get(ctx context.Context, endpoint string, query map[string]string) (*Response, error) {
	resp, err := rc.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(endpoint)
	if err != nil {
		err = rc.redact(err, query)
	}
	if resp == nil {
		return &Response{}, err
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header(),
		Latency:    resp.Time(),
	}, err
}

func (rc *RestyClient) redact(err error, query map[string]string) error {
	msg := err.Error()
	for _, name := range rc.redacted {
		secret := query[name]
		if secret == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, url.QueryEscape(secret), "REDACTED")
		msg = strings.ReplaceAll(msg, secret, "REDACTED")
	}
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }
