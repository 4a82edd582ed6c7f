package xmapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xmatters-labs/restore-instance-data/pkg/logging"
)

// APIPrefix is the REST root of the target instance.
const APIPrefix = "/api/xm/1"

const tracerName = "github.com/xmatters-labs/restore-instance-data/pkg/xmapi"

type Options struct {
	BaseURL         string
	User            string
	Password        string
	Timeout         time.Duration
	RequestIDHeader string
	Retry           RetryPolicy
	Logger          *logrus.Entry
	HTTPClient      *http.Client

	// Sleep replaces the backoff wait; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client sends one request at a time to the target instance with a fixed
// basic-auth credential and retries transient statuses per its RetryPolicy.
type Client struct {
	baseURL         *url.URL
	user            string
	password        string
	httpClient      *http.Client
	requestIDHeader string
	retry           RetryPolicy
	logger          *logrus.Entry
	sleep           func(ctx context.Context, d time.Duration) error
	tracer          trace.Tracer
	m               *metrics
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid instance url: %q", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retry := opts.Retry
	if retry.Statuses == nil {
		retry.Statuses = TransientStatuses
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		baseURL:         u,
		user:            opts.User,
		password:        opts.Password,
		httpClient:      httpClient,
		requestIDHeader: opts.RequestIDHeader,
		retry:           retry,
		logger:          logger,
		sleep:           sleep,
		tracer:          otel.Tracer(tracerName),
		m:               getMetrics(),
	}, nil
}

func (c *Client) RetryPolicy() RetryPolicy { return c.retry }

// Path joins escaped path segments under APIPrefix.
func Path(segments ...string) string {
	var b strings.Builder
	b.WriteString(APIPrefix)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// Response is a fully read reply from the target instance.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Attempts   int
}

func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusCreated
}

func (r *Response) Created() bool  { return r.StatusCode == http.StatusCreated }
func (r *Response) NotFound() bool { return r.StatusCode == http.StatusNotFound }
func (r *Response) Conflict() bool { return r.StatusCode == http.StatusConflict }

// Err returns the decoded error body of a non-2xx response, or nil.
func (r *Response) Err() *APIError {
	if r.OK() {
		return nil
	}
	return parseAPIError(r.StatusCode, r.URL, r.Body)
}

type callOptions struct {
	noRetry map[int]bool
}

type CallOption func(*callOptions)

// WithoutRetryOn hands the listed statuses straight back to the caller even
// when the policy treats them as transient.
func WithoutRetryOn(statuses ...int) CallOption {
	return func(o *callOptions) {
		if o.noRetry == nil {
			o.noRetry = map[int]bool{}
		}
		for _, s := range statuses {
			o.noRetry[s] = true
		}
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body []byte, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do issues the request, sleeping and retrying while the response status is
// transient. A transport failure is returned at once without retrying.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, opts ...CallOption) (*Response, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := c.baseURL.String() + path
	started := time.Now()
	for attempt := 1; ; attempt++ {
		resp, err := c.once(ctx, method, target, body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		resp.Attempts = attempt
		span.SetAttributes(
			attribute.Int("http.status_code", resp.StatusCode),
			attribute.Int("restore.attempts", attempt),
		)

		if !c.retry.Retryable(resp.StatusCode) || co.noRetry[resp.StatusCode] {
			return resp, nil
		}
		if c.retry.Exhausted(attempt, time.Since(started)) {
			err := errors.Wrapf(ErrRetriesExhausted, "%s %s: status %d after %d attempts", method, target, resp.StatusCode, attempt)
			span.SetStatus(codes.Error, err.Error())
			return resp, err
		}

		delay := c.retry.Delay(attempt)
		c.logger.Warnf("Got recoverable error [%d] from %s %s, retry #%d in %s", resp.StatusCode, method, target, attempt, delay)
		c.m.retriesTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) once(ctx context.Context, method, target string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "build %s %s: %v", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestIDHeader != "" {
		req.Header.Set(c.requestIDHeader, uuid.NewString())
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	if body != nil {
		c.logger.Debugf("%s %s with body: %s", method, target, body)
	} else {
		c.logger.Debugf("%s %s", method, target)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.m.requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.m.requestsTotal.WithLabelValues(method, "error").Inc()
		return nil, errors.Wrapf(ErrTransport, "%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.m.requestsTotal.WithLabelValues(method, "error").Inc()
		return nil, errors.Wrapf(ErrTransport, "read %s %s: %v", method, target, err)
	}
	c.m.requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	return &Response{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}, nil
}

func (r *Response) String() string {
	return fmt.Sprintf("%s %s -> %d", r.Method, r.URL, r.StatusCode)
}
