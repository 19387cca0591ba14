package logging

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/models"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []*models.LogMessage
	drop bool
}

var errSinkFull = errors.New("sink full")

func (c *captureSink) TryEnqueue(msg *models.LogMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drop {
		return errSinkFull
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSink) messages() []*models.LogMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.LogMessage(nil), c.msgs...)
}

func newTestService(sink Enqueuer, filter models.CategoryFilter) *Service {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("EET", 2*3600))
	return NewService(sink, Options{
		Identity: Identity{Machine: "host-1", User: "alice", Application: "billing", InstanceID: "inst-1", Version: "1.2.3"},
		Filter:   filter,
		Clock:    func() time.Time { return fixed },
	})
}

func TestService_StampsMessage(t *testing.T) {
	sink := &captureSink{}
	s := newTestService(sink, models.CategoryFilter{})

	s.Warning("retrying upload", "attempt", 2, "bucket", "logs")

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, int64(1), m.Index)
	assert.Equal(t, models.Warning, m.Category)
	assert.Equal(t, "retrying upload", m.Message)
	assert.Equal(t, "attempt=2 bucket=logs", m.Attributes)
	assert.Equal(t, time.UTC, m.Timestamp.Location())
	assert.Equal(t, 7, m.Timestamp.Hour())
	assert.Equal(t, "host-1", m.Machine)
	assert.Equal(t, "alice", m.User)
	assert.Equal(t, "billing", m.Application)
	assert.Equal(t, "inst-1", m.InstanceID)
	assert.Equal(t, "1.2.3", m.Version)
	assert.Equal(t, "logging", m.Class)
	assert.Equal(t, "TestService_StampsMessage", m.Method)
	assert.Positive(t, m.Thread)
	assert.False(t, m.HasException())
}

type worker struct{ s *Service }

func (w *worker) run() { w.s.Info("working") }

func TestService_CallerMethod(t *testing.T) {
	sink := &captureSink{}
	w := &worker{s: newTestService(sink, models.CategoryFilter{})}
	w.run()

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "logging.worker", msgs[0].Class)
	assert.Equal(t, "run", msgs[0].Method)
}

func TestService_Verbs(t *testing.T) {
	sink := &captureSink{}
	s := newTestService(sink, models.CategoryFilter{})

	s.Trace("t")
	s.Debug("d")
	s.Info("i")
	s.StartStop("s")
	s.Warning("w")
	s.Error(nil, "e")
	s.Fatal(nil, "f")
	s.Log(models.None, nil, "none")
	s.Log(models.Category(1<<20)|models.Debug, nil, "masked")

	var got []models.Category
	for _, m := range sink.messages() {
		got = append(got, m.Category)
	}
	assert.Equal(t, []models.Category{
		models.Trace, models.Debug, models.Info, models.StartStop,
		models.Warning, models.Error, models.Fatal, models.Info, models.Debug,
	}, got)
}

func TestService_Exception(t *testing.T) {
	sink := &captureSink{}
	s := newTestService(sink, models.CategoryFilter{})

	cause := pkgerrors.New("connection reset")
	s.Error(fmt.Errorf("upload failed: %w", cause), "archive")
	s.Error(errors.New("plain"), "no stack")

	msgs := sink.messages()
	require.Len(t, msgs, 2)

	assert.Equal(t, models.Error, msgs[0].ExceptionLevel)
	assert.Equal(t, "upload failed: connection reset", msgs[0].Exception)
	assert.Contains(t, msgs[0].StackTrace, "TestService_Exception")

	assert.Equal(t, "plain", msgs[1].Exception)
	assert.Empty(t, msgs[1].StackTrace)
}

func TestService_Filter(t *testing.T) {
	sink := &captureSink{}
	s := newTestService(sink, models.NewCategoryFilter(models.AllCategories, models.Trace|models.Debug))

	s.Trace("hidden")
	s.Debug("hidden")
	s.Info("shown")

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].Index)

	s.SetFilter(models.NewCategoryFilter(models.Error, models.None))
	s.Info("hidden")
	s.Error(nil, "shown")
	assert.Len(t, sink.messages(), 2)
}

func TestService_IndexNeverReused(t *testing.T) {
	sink := &captureSink{drop: true}
	s := newTestService(sink, models.CategoryFilter{})

	s.Info("dropped")
	s.Info("dropped")
	sink.drop = false
	s.Info("kept")

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(3), msgs[0].Index)
	assert.Equal(t, int64(3), s.LastIndex())
}

// slowReportSink drops every message and blocks in ReportDrop until released.
type slowReportSink struct {
	reporting chan struct{}
	release   chan struct{}
	once      sync.Once
}

func (s *slowReportSink) TryEnqueue(*models.LogMessage) error { return errSinkFull }

func (s *slowReportSink) ReportDrop(*models.LogMessage, error) {
	first := false
	s.once.Do(func() {
		first = true
		close(s.reporting)
	})
	if first {
		<-s.release
	}
}

func TestService_DropReportDoesNotBlockProducers(t *testing.T) {
	sink := &slowReportSink{reporting: make(chan struct{}), release: make(chan struct{})}
	s := newTestService(sink, models.CategoryFilter{})

	go s.Info("first")
	<-sink.reporting

	done := make(chan struct{})
	go func() {
		s.Info("second")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked behind a drop report")
	}
	close(sink.release)
	assert.Equal(t, int64(2), s.LastIndex())
}

func TestService_ConcurrentProducers(t *testing.T) {
	sink := &captureSink{}
	s := newTestService(sink, models.CategoryFilter{})

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Info("msg", "producer", p, "i", i)
			}
		}()
	}
	wg.Wait()

	msgs := sink.messages()
	require.Len(t, msgs, 800)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Index)
	}
}

type panickingSink struct{}

func (panickingSink) TryEnqueue(*models.LogMessage) error { panic("sink broke") }

func TestService_NeverPanics(t *testing.T) {
	s := newTestService(panickingSink{}, models.CategoryFilter{})
	s.logger.SetOutput(io.Discard)

	assert.NotPanics(t, func() {
		s.Info("boom")
	})
}

func TestDetectIdentity(t *testing.T) {
	a := DetectIdentity("svc", "0.1.0")
	b := DetectIdentity("svc", "0.1.0")

	assert.Equal(t, "svc", a.Application)
	assert.Equal(t, "0.1.0", a.Version)
	assert.NotEmpty(t, a.InstanceID)
	assert.NotEqual(t, a.InstanceID, b.InstanceID)
}

func TestSplitFuncName(t *testing.T) {
	tests := []struct {
		name   string
		class  string
		method string
	}{
		{"logpipe/internal/app.(*Pipeline).Apply", "app.Pipeline", "Apply"},
		{"logpipe/internal/providers.Descriptor.String", "providers.Descriptor", "String"},
		{"logpipe/internal/app.Run.func1", "app", "Run.func1"},
		{"main.main", "main", "main"},
		{"logpipe/internal/app.(*Pipeline).Watch.func1", "app.Pipeline", "Watch.func1"},
		{"runtime", "", "runtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, method := splitFuncName(tt.name)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.method, method)
		})
	}
}

func TestGoroutineID(t *testing.T) {
	self := goroutineID()
	other := make(chan int64)
	go func() { other <- goroutineID() }()

	assert.Positive(t, self)
	assert.NotEqual(t, self, <-other)
}
