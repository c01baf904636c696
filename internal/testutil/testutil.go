// Package testutil provides common test helpers for IntakeDesk packages that sit above the flow.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/flow"
	"github.com/BTreeMap/IntakeDesk/internal/notify"
	"github.com/BTreeMap/IntakeDesk/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Fixture is an intake flow over in-memory dependencies.
type Fixture struct {
	Flow     *flow.IntakeFlow
	Store    *store.InMemoryStore
	Notifier *notify.MockNotifier
}

// NewFlow builds a Fixture. opts are applied after the in-memory notifier option.
func NewFlow(t TB, opts ...flow.Option) *Fixture {
	t.Helper()
	fx := &Fixture{Store: store.NewInMemoryStore(), Notifier: &notify.MockNotifier{}}
	f, err := flow.NewIntakeFlow(fx.Store, append([]flow.Option{flow.WithNotifier(fx.Notifier)}, opts...)...)
	if err != nil {
		t.Fatalf("NewIntakeFlow: %v", err)
	}
	fx.Flow = f
	return fx
}

// Envelope mirrors the API's JSON envelope with the result left undecoded.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// DoJSON sends a request to h and decodes the envelope. body may be nil, a string sent as is,
// or any value marshaled to JSON.
func DoJSON(t TB, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
		r = http.NoBody
	case string:
		r = strings.NewReader(b)
	default:
		r = bytes.NewReader(MustMarshalJSON(t, b))
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env Envelope
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: response is not JSON %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr, env
}

// DecodeResult unmarshals the envelope result into target.
func DecodeResult(t TB, env Envelope, target interface{}) {
	t.Helper()
	if len(env.Result) == 0 {
		t.Fatalf("envelope has no result (status %q, message %q)", env.Status, env.Message)
		return
	}
	MustUnmarshalJSON(t, env.Result, target)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertNoSecret fails when secret appears anywhere in haystack.
func AssertNoSecret(t TB, haystack, secret, context string) {
	t.Helper()
	if secret != "" && strings.Contains(haystack, secret) {
		t.Errorf("%s: output contains a credential that must never be stored or echoed", context)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
