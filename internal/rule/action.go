package rule

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
)

// ReadingAppender is the ingestion path used for synthetic readings
type ReadingAppender interface {
	AppendInternal(ctx context.Context, clientID string, r reading.Reading) error
}

// HTTPDoer sends outbound webhook requests; *http.Client satisfies it
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor runs rule actions against a trigger reading
type Executor struct {
	appender ReadingAppender
	client   HTTPDoer
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewExecutor creates an executor. A nil client falls back to
// http.DefaultClient.
func NewExecutor(appender ReadingAppender, client HTTPDoer, log *logger.Logger, m *metrics.Metrics) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		appender: appender,
		client:   client,
		logger:   log,
		metrics:  m,
		now:      time.Now,
	}
}

// Execute dispatches on the action variant
func (e *Executor) Execute(ctx context.Context, clientID string, trigger reading.Reading, rule *Rule, action Action) error {
	switch action.Type {
	case ActionSetValue:
		if action.SetValue == nil {
			return fmt.Errorf("set_value action has no body")
		}
		return e.setValue(ctx, clientID, trigger, rule, action.SetValue)
	case ActionWebHook:
		if action.WebHook == nil {
			return fmt.Errorf("webhook action has no body")
		}
		return e.webHook(ctx, trigger, rule, action.WebHook)
	default:
		return fmt.Errorf("unknown action type: %q", action.Type)
	}
}

func (e *Executor) setValue(ctx context.Context, clientID string, trigger reading.Reading, rule *Rule, sv *SetDeviceValue) error {
	if e.appender == nil {
		return fmt.Errorf("no reading appender configured")
	}

	now := e.now()
	synthetic := reading.Reading{
		DeviceID:  sv.TargetDeviceID,
		Type:      sv.ValueType,
		Value:     RenderAt(sv.NewValue, trigger, rule, now),
		Timestamp: now.UTC(),
	}

	if err := e.appender.AppendInternal(ctx, clientID, synthetic); err != nil {
		return fmt.Errorf("failed to set value of %s: %w", sv.TargetDeviceID, err)
	}

	e.logger.Debug("device value set by rule",
		"ruleId", rule.ID,
		"targetDeviceId", synthetic.DeviceID,
		"value", synthetic.Value)
	return nil
}

func (e *Executor) webHook(ctx context.Context, trigger reading.Reading, rule *Rule, wh *WebHook) error {
	now := e.now()
	method := strings.ToUpper(strings.TrimSpace(wh.Method))
	if method == "" {
		method = http.MethodPost
	}
	url := RenderAt(wh.URL, trigger, rule, now)

	var body io.Reader
	payload := RenderAt(wh.PayloadTemplate, trigger, rule, now)
	if payload != "" && method != http.MethodGet {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for name, value := range wh.Headers {
		req.Header.Set(name, RenderAt(value, trigger, rule, now))
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		e.metrics.ObserveWebHookDuration("error", time.Since(start))
		return fmt.Errorf("webhook %s %s failed: %w", method, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	e.logger.Info("webhook called",
		"method", method,
		"url", url,
		"status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.metrics.ObserveWebHookDuration("error", time.Since(start))
		return fmt.Errorf("webhook %s %s returned status %d", method, url, resp.StatusCode)
	}
	e.metrics.ObserveWebHookDuration("success", time.Since(start))
	return nil
}
