package stream

import (
	"time"
)

// ClassificationResult is the outcome of one successfully processed window.
type ClassificationResult struct {
	// Prediction is the classifier label.
	Prediction string

	// Confidence is in [0, 1].
	Confidence float64

	// Timestamp is when the window finished processing.
	Timestamp time.Time

	// FeaturesUsed names the extractors that produced the feature vector.
	FeaturesUsed []string
}

// Outcome is the tagged result of processing one window: exactly one of
// Result and Err is set.
type Outcome struct {
	Sequence uint64
	Result   *ClassificationResult
	Err      *Error
}

// OK reports whether the window produced a result.
func (o Outcome) OK() bool { return o.Err == nil }

// MessageType discriminates outbound messages.
type MessageType string

const (
	MessageResult MessageType = "result"
	MessageError  MessageType = "error"
)

// Message is one outbound frame. Result messages carry Result; error
// messages carry Error, and Terminal is set when the session is ending
// because of it.
type Message struct {
	Type     MessageType
	Sequence uint64
	Result   *ClassificationResult
	Error    *Error
	Terminal bool
}

// OutcomeMessage converts o into its outbound message.
func OutcomeMessage(o Outcome) Message {
	if o.OK() {
		return Message{Type: MessageResult, Sequence: o.Sequence, Result: o.Result}
	}
	return Message{Type: MessageError, Sequence: o.Sequence, Error: o.Err}
}

// WireMessage is the serialised form of a [Message]. Field names are shared
// by the JSON and msgpack codecs.
type WireMessage struct {
	Type         MessageType `json:"type" msgpack:"type"`
	Sequence     uint64      `json:"sequence" msgpack:"sequence"`
	Prediction   string      `json:"prediction,omitempty" msgpack:"prediction,omitempty"`
	Confidence   *float64    `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	Timestamp    string      `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	FeaturesUsed []string    `json:"features_used,omitempty" msgpack:"features_used,omitempty"`
	Error        *WireError  `json:"error,omitempty" msgpack:"error,omitempty"`
	Terminal     bool        `json:"terminal,omitempty" msgpack:"terminal,omitempty"`
}

// WireError is the serialised form of an [*Error].
type WireError struct {
	Kind    ErrorKind `json:"kind" msgpack:"kind"`
	Message string    `json:"message" msgpack:"message"`
}

// Wire converts m to its serialisable form. Timestamps are RFC 3339 in UTC
// with nanosecond precision.
func (m Message) Wire() WireMessage {
	w := WireMessage{Type: m.Type, Sequence: m.Sequence, Terminal: m.Terminal}
	if r := m.Result; r != nil {
		conf := r.Confidence
		w.Prediction = r.Prediction
		w.Confidence = &conf
		w.Timestamp = r.Timestamp.UTC().Format(time.RFC3339Nano)
		w.FeaturesUsed = r.FeaturesUsed
	}
	if e := m.Error; e != nil {
		msg := string(e.Kind)
		if e.Err != nil {
			msg = e.Err.Error()
		}
		w.Error = &WireError{Kind: e.Kind, Message: msg}
	}
	return w
}
