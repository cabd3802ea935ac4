package stream

import (
	"context"
	"io"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

const testTimeout = 2 * time.Second

type recvItem struct {
	data []byte
	err  error
}

// fakeTransport is an in-memory Transport. Inbound chunks are pushed by the
// test; outbound messages are collected on out.
type fakeTransport struct {
	in       chan recvItem
	out      chan Message
	sendErr  error
	receives atomic.Int64
	closes   atomic.Int64

	mu         sync.Mutex
	closeCause error
	eofOnce    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:  make(chan recvItem, 4096),
		out: make(chan Message, 4096),
	}
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case it, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		if it.err != nil {
			return nil, it.err
		}
		f.receives.Add(1)
		return it.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	select {
	case f.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close(cause error) error {
	f.closes.Add(1)
	f.mu.Lock()
	f.closeCause = cause
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCause
}

func (f *fakeTransport) push(b []byte) { f.in <- recvItem{data: b} }

func (f *fakeTransport) fail(err error) { f.in <- recvItem{err: err} }

func (f *fakeTransport) eof() { f.eofOnce.Do(func() { close(f.in) }) }

// pushChunked splits data into chunks of size n.
func (f *fakeTransport) pushChunked(data []byte, n int) {
	for len(data) > 0 {
		k := min(n, len(data))
		f.push(data[:k])
		data = data[k:]
	}
}

func (f *fakeTransport) expect(t *testing.T, n int) []Message {
	t.Helper()
	msgs := make([]Message, 0, n)
	for range n {
		select {
		case m := <-f.out:
			msgs = append(msgs, m)
		case <-time.After(testTimeout):
			t.Fatalf("received %d of %d messages before timeout", len(msgs), n)
		}
	}
	return msgs
}

func (f *fakeTransport) expectNone(t *testing.T) {
	t.Helper()
	select {
	case m := <-f.out:
		t.Fatalf("unexpected message: %+v", m)
	default:
	}
}

// testFeatures is a small extraction config that keeps tests fast.
// One window is 64 samples, 256 bytes as f32le.
func testFeatures() features.Config {
	return features.Config{
		SampleRate:   16000,
		WindowSize:   64,
		FeatureCount: 4,
		FrameSize:    32,
		HopSize:      16,
		FFTSize:      64,
		NumMels:      8,
		LowFreq:      20,
		PreEmphasis:  0.97,
	}
}

const testWindowBytes = 64 * 4

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Format:                 audio.FormatF32LE,
		Features:               testFeatures(),
		MaxChunkBytes:          1 << 16,
		ClassifierTimeout:      time.Second,
		MaxConsecutiveFailures: 3,
		SendTimeout:            time.Second,
	}
}

// pcm returns n f32le samples of a deterministic tone.
func pcm(n int) []byte {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return audio.Encode(audio.FormatF32LE, samples)
}

// echoClassifier returns a label derived from the first coefficient so
// results depend on window content.
func echoClassifier(_ context.Context, _ int, v features.Vector) (classifier.Prediction, error) {
	return classifier.Prediction{Label: labelFor(v), Confidence: 0.5}, nil
}

func labelFor(v features.Vector) string {
	return strconv.FormatFloat(v[0], 'g', -1, 64)
}

func newTestManager(t *testing.T, cls classifier.Classifier, mutate func(*ManagerConfig)) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		MaxSessions: 8,
		IdleTimeout: time.Minute,
		Session:     testSessionConfig(),
		Classifier:  cls,
		Budget:      NewBudget(1 << 20),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(testTimeout):
		t.Fatalf("session %s did not finish (state %s)", s.ID(), s.State())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
