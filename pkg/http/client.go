package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/astro-web3/records-gateway/pkg/tracer"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 30 * time.Second

// Client forwards requests to upstream services. It never retries: a
// forwarded request may not be idempotent.
type Client struct {
	rc *resty.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetAllowGetMethodPayload(true).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	return &Client{rc: rc}
}

type ForwardRequest struct {
	Method string
	URL    string
	Header http.Header
	// Body may be nil for requests without content.
	Body io.Reader
}

// Forward sends req upstream and returns the raw response. The caller must
// close the response body.
func (c *Client) Forward(ctx context.Context, req ForwardRequest) (*http.Response, error) {
	ctx, span := startClientSpan(ctx, "http.Forward", req.Method, req.URL)
	defer span.End()

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	request := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	// Assigned directly so repeated headers stay separate lines.
	request.Header = header
	if req.Body != nil {
		request.SetBody(req.Body)
	}

	resp, err := request.Execute(req.Method, req.URL)
	recordSpan(span, resp, err)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			_ = resp.RawBody().Close()
		}
		return nil, err
	}
	return resp.RawResponse, nil
}

func startClientSpan(
	ctx context.Context,
	spanName string,
	method string,
	url string,
) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	))
}

func recordSpan(span trace.Span, resp *resty.Response, err error) {
	if err != nil {
		tracer.Fail(span, err)
		return
	}
	if resp == nil {
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.StatusCode() >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status())
		return
	}
	span.SetStatus(codes.Ok, "")
}
