package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_ebics_requests_total",
			Help: "EBICS HTTP POSTs by host and outcome.",
		},
		[]string{"host", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_ebics_request_duration_seconds",
			Help:    "EBICS HTTP POST latency by host.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

// Client posts EBICS XML envelopes to a single bank host. One Client is
// constructed per configured subscriber; the embedded Breaker isolates
// failures of one bank host from another (spec.md §4.F).
type Client struct {
	HostID     string
	BaseURL    string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Logger     *zap.Logger
}

// NewClient builds a Client with the default retry/breaker policy and a
// 30-second per-request timeout, as a thin wrapper around a shared
// connection to one bank host.
func NewClient(hostID, baseURL string, logger *zap.Logger) *Client {
	return &Client{
		HostID:  hostID,
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Retry:  DefaultRetryPolicy(hostID, logger),
		Logger: logger,
	}
}

// Post sends body as an EBICS request and returns the raw response body,
// retrying transport-level failures under the circuit breaker. Non-200
// responses and connection errors classify as *TransportError; a 200
// response is always returned as-is for protocol-level parsing upstream,
// since EBICS reports bank-technical failure inside a 200 envelope.
func (c *Client) Post(ctx context.Context, body []byte) ([]byte, error) {
	var respBody []byte
	err := RetryWithBackoff(ctx, c.Retry, func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
		if err != nil {
			return &TransportError{Op: "build request", Err: err}
		}
		req.Header.Set("Content-Type", "text/xml; charset=UTF-8")

		resp, err := c.HTTPClient.Do(req)
		requestDuration.WithLabelValues(c.HostID).Observe(time.Since(start).Seconds())
		if err != nil {
			requestsTotal.WithLabelValues(c.HostID, "transport_error").Inc()
			return &TransportError{Op: "POST " + c.BaseURL, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			requestsTotal.WithLabelValues(c.HostID, "transport_error").Inc()
			return &TransportError{Op: "read response", Err: err}
		}

		if resp.StatusCode != http.StatusOK {
			requestsTotal.WithLabelValues(c.HostID, "http_error").Inc()
			return &TransportError{Op: "POST " + c.BaseURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}

		requestsTotal.WithLabelValues(c.HostID, "ok").Inc()
		respBody = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}
