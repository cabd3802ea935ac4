package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestError_UnwrapsToSentinelAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("deadline")
	err := fmt.Errorf("outer: %w", NewError(KindClassifierTimeout, cause))

	if !errors.Is(err, ErrClassifierTimeout) {
		t.Error("errors.Is(err, ErrClassifierTimeout) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("matched an unrelated sentinel")
	}
	if kind, ok := KindOf(err); !ok || kind != KindClassifierTimeout {
		t.Errorf("KindOf = %q, %v", kind, ok)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		kind ErrorKind
		ok   bool
	}{
		{NewError(KindInvalidWindow, nil), KindInvalidWindow, true},
		{fmt.Errorf("wrap: %w", ErrResourceExhausted), KindResourceExhausted, true},
		{errors.New("plain"), "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		kind, ok := KindOf(tt.err)
		if kind != tt.kind || ok != tt.ok {
			t.Errorf("KindOf(%v) = %q, %v; want %q, %v", tt.err, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestErrorKind_Recoverable(t *testing.T) {
	t.Parallel()

	recoverable := map[ErrorKind]bool{
		KindInvalidWindow:     false,
		KindResourceExhausted: false,
		KindClassifierTimeout: true,
		KindClassifierFailed:  true,
		KindTransport:         false,
	}
	for k, want := range recoverable {
		if got := k.Recoverable(); got != want {
			t.Errorf("%s.Recoverable() = %v, want %v", k, got, want)
		}
	}
}

func TestMessage_WireJSON(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 1, 12, 0, 0, 500, time.FixedZone("x", 3600))
	result := OutcomeMessage(Outcome{
		Sequence: 7,
		Result: &ClassificationResult{
			Prediction:   "ASD_Detected",
			Confidence:   0,
			Timestamp:    ts,
			FeaturesUsed: []string{"MFCC"},
		},
	})

	raw, err := json.Marshal(result.Wire())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"type":          "result",
		"sequence":      float64(7),
		"prediction":    "ASD_Detected",
		"confidence":    float64(0),
		"timestamp":     "2025-03-01T11:00:00.0000005Z",
		"features_used": []any{"MFCC"},
	}
	if len(got) != len(want) {
		t.Errorf("fields = %v, want %v", got, want)
	}
	for k, v := range want {
		if fmt.Sprint(got[k]) != fmt.Sprint(v) {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestMessage_WireError(t *testing.T) {
	t.Parallel()

	msg := Message{
		Type:     MessageError,
		Sequence: 3,
		Error:    NewError(KindInvalidWindow, errors.New("non-finite sample")),
		Terminal: true,
	}
	w := msg.Wire()
	if w.Error == nil || w.Error.Kind != KindInvalidWindow || w.Error.Message != "non-finite sample" {
		t.Errorf("wire error = %+v", w.Error)
	}
	if w.Confidence != nil || w.Prediction != "" {
		t.Error("error message carries result fields")
	}
	if !w.Terminal {
		t.Error("terminal flag lost")
	}
}
