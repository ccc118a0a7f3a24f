package eventlog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// LokiSink pushes each record as one log line to the Loki push API, labelled by tenant and kind.
type LokiSink struct {
	http *resty.Client
	job  string
}

// NewLokiSink returns nil when baseURL is empty.
func NewLokiSink(baseURL, job string) *LokiSink {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if job == "" {
		job = "flowcrm"
	}
	return &LokiSink{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(5 * time.Second),
		job:  job,
	}
}

func (l *LokiSink) Write(ctx context.Context, rec Record, raw []byte) error {
	if l == nil {
		return nil
	}
	ts := rec.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	labels := map[string]string{"job": l.job}
	for k, v := range map[string]string{"org_id": rec.TenantID, "kind": rec.Kind} {
		if s := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); s != "" {
			labels[k] = s
		}
	}
	resp, err := l.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(lokiPush{Streams: []lokiStream{{
			Stream: labels,
			Values: [][]string{{strconv.FormatInt(ts.UnixNano(), 10), string(raw)}},
		}}}).
		Post("/loki/api/v1/push")
	if err != nil {
		return fmt.Errorf("eventlog: loki push: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("eventlog: loki push returned %s", resp.Status())
	}
	return nil
}

func (l *LokiSink) Close() error { return nil }
