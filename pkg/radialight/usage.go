package radialight

import (
	"encoding/json"
	"math"
	"net/url"
	"slices"
	"strconv"
	"time"
)

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// UsageRequest selects the usage series to fetch. An empty ProductID selects the account-level series.
type UsageRequest struct {
	Period     string
	Comparison int
	ProductID  string
}

func (r UsageRequest) path() string {
	period := r.Period
	if period == "" {
		period = PeriodDay
	}
	q := url.Values{
		"comparison": {strconv.Itoa(r.Comparison)},
		"period":     {period},
	}
	if r.ProductID != "" {
		q.Set("productId", r.ProductID)
	}
	return "/usage?" + q.Encode()
}

// Sample is a single usage reading. Value is in the API's native scale.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// UsageSeries is the decoded result of a usage call. Samples are sorted by timestamp.
type UsageSeries struct {
	Samples []Sample
	Start   time.Time
	End     time.Time
	// Dropped counts the entries that were discarded because they could not be parsed.
	Dropped int
	Errors  []error
}

type usageResponse struct {
	Values           []usageEntry `json:"values"`
	ComparisonValues []usageEntry `json:"comparisonValues"`
	DateStart        string       `json:"dateStart"`
	DateEnd          string       `json:"dateEnd"`
}

type usageEntry struct {
	Date  *string          `json:"date"`
	Usage *json.RawMessage `json:"usage"`
}

func parseUsage(response usageResponse) UsageSeries {
	var series UsageSeries
	series.Start, _ = parseTimestamp(response.DateStart)
	series.End, _ = parseTimestamp(response.DateEnd)

	series.Samples = make([]Sample, 0, len(response.Values))
	for _, entry := range response.Values {
		sample, err := entry.sample()
		if err != nil {
			series.Dropped++
			series.Errors = append(series.Errors, err)
			continue
		}
		series.Samples = append(series.Samples, sample)
	}
	slices.SortStableFunc(series.Samples, func(a, b Sample) int { return a.Timestamp.Compare(b.Timestamp) })
	return series
}

func (e usageEntry) sample() (Sample, error) {
	if e.Date == nil || *e.Date == "" {
		return Sample{}, &DataError{Kind: MalformedSample, Reason: "missing date"}
	}
	ts, err := parseTimestamp(*e.Date)
	if err != nil {
		return Sample{}, &DataError{Kind: MalformedSample, Reason: "invalid date " + strconv.Quote(*e.Date), Err: err}
	}
	if e.Usage == nil {
		return Sample{}, &DataError{Kind: MalformedSample, Reason: "missing usage"}
	}
	value, err := parseNumber(*e.Usage)
	if err != nil {
		return Sample{}, &DataError{Kind: MalformedSample, Reason: "invalid usage at " + *e.Date, Err: err}
	}
	return Sample{Timestamp: ts, Value: value}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp parses an ISO-8601 timestamp. Timestamps without an offset are UTC.
func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}

// parseNumber accepts both 1.5 and "1.5", as long as the result is finite.
func parseNumber(raw json.RawMessage) (float64, error) {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return 0, err
		}
		if value, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, err
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &DataError{Kind: MalformedSample, Reason: "non-finite usage"}
	}
	return value, nil
}
