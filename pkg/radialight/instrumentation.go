package radialight

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRequestMetrics returns request metrics for calls to the Radialight API and its token endpoint.
// Resource IDs are removed from the path, to keep label cardinality under control.
func NewRequestMetrics(namespace, subsystem string, labels prometheus.Labels) metrics.RequestMetrics {
	return metrics.NewRequestMetrics(metrics.Options{
		Namespace:   namespace,
		Subsystem:   subsystem,
		ConstLabels: labels,
		LabelValues: func(request *http.Request, statusCode int) (string, string, string) {
			return request.Method, metricsPath(request.URL.Path), strconv.Itoa(statusCode)
		},
	})
}

func metricsPath(path string) string {
	for _, prefix := range []string{"/zone/", "/product/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "{id}"
		}
	}
	return path
}

// NewHTTPClient returns an http.Client that records requests in m. If m is nil, requests are not recorded.
func NewHTTPClient(m metrics.RequestMetrics, timeout time.Duration) *http.Client {
	rt := http.DefaultTransport
	if m != nil {
		rt = instrumentedRoundTripper(rt, m)
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

func instrumentedRoundTripper(rt http.RoundTripper, m metrics.RequestMetrics) http.RoundTripper {
	return roundtripper.New(
		roundtripper.WithRequestMetrics(m),
		roundtripper.WithRoundTripper(rt),
	)
}
