package rule

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rule-broker/internal/logger"
	"rule-broker/internal/reading"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), string(body)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func testRule() *Rule {
	return &Rule{
		ID:         "r1",
		ClientID:   "c1",
		Name:       "Overheat",
		Conditions: []Condition{{DeviceID: "temp-1", Operator: GreaterThan, ThresholdValue: "30"}},
	}
}

func TestExecutorWebHookPost(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusAccepted)
	e := NewExecutor(nil, srv.Client(), logger.NewNop(), newMockMetrics())

	action := Action{Type: ActionWebHook, WebHook: &WebHook{
		URL:             srv.URL + "/hooks/{device}?rule={rule.id}",
		Method:          "post",
		PayloadTemplate: `{"device":"{device}","value":{value}}`,
		Headers:         map[string]string{"X-Rule": "{rule.name}"},
	}}
	trigger := reading.Reading{DeviceID: "temp-1", Type: reading.Numeric, Value: "35"}

	require.NoError(t, e.Execute(context.Background(), "c1", trigger, testRule(), action))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/hooks/temp-1", reqs[0].path)
	assert.Equal(t, "rule=r1", reqs[0].query)
	assert.Equal(t, "Overheat", reqs[0].header.Get("X-Rule"))
	assert.Equal(t, "application/json; charset=utf-8", reqs[0].header.Get("Content-Type"))
	assert.JSONEq(t, `{"device":"temp-1","value":35}`, reqs[0].body)
}

func TestExecutorWebHookGetHasNoBody(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	e := NewExecutor(nil, srv.Client(), logger.NewNop(), nil)

	action := Action{Type: ActionWebHook, WebHook: &WebHook{
		URL:             srv.URL + "/ping",
		Method:          http.MethodGet,
		PayloadTemplate: `{"ignored":true}`,
	}}

	require.NoError(t, e.Execute(context.Background(), "c1", reading.Reading{DeviceID: "d1"}, testRule(), action))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].method)
	assert.Empty(t, reqs[0].body)
	assert.Empty(t, reqs[0].header.Get("Content-Type"))
}

func TestExecutorWebHookDefaultsToPost(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	e := NewExecutor(nil, srv.Client(), logger.NewNop(), nil)

	action := Action{Type: ActionWebHook, WebHook: &WebHook{URL: srv.URL}}
	require.NoError(t, e.Execute(context.Background(), "c1", reading.Reading{DeviceID: "d1"}, testRule(), action))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Empty(t, reqs[0].body, "no payload template means no body")
}

func TestExecutorWebHookFailures(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusInternalServerError)

	tests := []struct {
		name   string
		client HTTPDoer
		url    string
	}{
		{"non-2xx response", srv.Client(), srv.URL},
		{"transport error", doerFunc(func(*http.Request) (*http.Response, error) { return nil, errors.New("dial tcp: refused") }), "http://device.invalid"},
		{"malformed url", srv.Client(), "://bad url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(nil, tt.client, logger.NewNop(), newMockMetrics())
			action := Action{Type: ActionWebHook, WebHook: &WebHook{URL: tt.url, Method: "PUT"}}
			assert.Error(t, e.Execute(context.Background(), "c1", reading.Reading{DeviceID: "d1"}, testRule(), action))
		})
	}
}

func TestExecutorWebHookTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 50 * time.Millisecond}
	e := NewExecutor(nil, client, logger.NewNop(), nil)

	action := Action{Type: ActionWebHook, WebHook: &WebHook{URL: srv.URL}}
	assert.Error(t, e.Execute(context.Background(), "c1", reading.Reading{DeviceID: "d1"}, testRule(), action))
}

func TestExecutorSetValue(t *testing.T) {
	appender := &recordingAppender{}
	e := NewExecutor(appender, nil, logger.NewNop(), nil)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	action := Action{Type: ActionSetValue, SetValue: &SetDeviceValue{
		TargetDeviceID: "fan-1",
		NewValue:       "{value}",
		ValueType:      reading.Numeric,
	}}
	trigger := reading.Reading{DeviceID: "temp-1", Type: reading.Numeric, Value: "35", Timestamp: fixed.Add(-time.Hour)}

	require.NoError(t, e.Execute(context.Background(), "c1", trigger, testRule(), action))

	require.Len(t, appender.appended, 1)
	got := appender.appended[0]
	assert.Equal(t, "c1", appender.clients[0])
	assert.Equal(t, "fan-1", got.DeviceID)
	assert.Equal(t, reading.Numeric, got.Type)
	assert.Equal(t, "35", got.Value)
	assert.True(t, fixed.Equal(got.Timestamp), "synthetic reading is stamped now")
}

func TestExecutorSetValueErrors(t *testing.T) {
	action := Action{Type: ActionSetValue, SetValue: &SetDeviceValue{TargetDeviceID: "fan-1", NewValue: "on", ValueType: reading.Text}}

	e := NewExecutor(&recordingAppender{err: errors.New("rejected")}, nil, logger.NewNop(), nil)
	assert.Error(t, e.Execute(context.Background(), "c1", reading.Reading{}, testRule(), action))

	e = NewExecutor(nil, nil, logger.NewNop(), nil)
	assert.Error(t, e.Execute(context.Background(), "c1", reading.Reading{}, testRule(), action))
}

func TestExecutorRejectsMalformedActions(t *testing.T) {
	e := NewExecutor(&recordingAppender{}, nil, logger.NewNop(), nil)

	for _, a := range []Action{
		{Type: ActionSetValue},
		{Type: ActionWebHook},
		{Type: "email"},
	} {
		assert.Error(t, e.Execute(context.Background(), "c1", reading.Reading{}, testRule(), a), string(a.Type))
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }
