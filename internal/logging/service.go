// Package logging is the producer-facing side of the pipeline. A Service
// stamps each call into a models.LogMessage and hands it to the dispatcher
// without waiting for any provider.
package logging

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"logpipe/internal/models"
	"logpipe/internal/utils"
)

// callerSkip is the number of frames between Service.log and the code that
// called a Service verb.
const callerSkip = 2

// Enqueuer accepts stamped messages without blocking. TryEnqueue returns an
// error when the message was dropped and must not log or wait.
type Enqueuer interface {
	TryEnqueue(msg *models.LogMessage) error
}

// DropReporter is implemented by sinks that report dropped messages. The
// Service calls it after releasing its ordering lock.
type DropReporter interface {
	ReportDrop(msg *models.LogMessage, err error)
}

// Options configure a Service.
type Options struct {
	Identity Identity

	// Filter is applied before a message is stamped. A zero Enabled mask
	// accepts every category.
	Filter models.CategoryFilter

	// Clock returns the current time; defaults to time.Now
	Clock func() time.Time
}

// Service is the logging façade used by application code.
type Service struct {
	sink     Enqueuer
	identity Identity
	now      func() time.Time
	logger   *utils.Logger

	filterMu sync.RWMutex
	filter   models.CategoryFilter

	// mu orders index assignment and enqueue
	mu   sync.Mutex
	next int64
}

// NewService creates a Service writing to sink.
func NewService(sink Enqueuer, opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		sink:     sink,
		identity: opts.Identity.withDefaults(),
		now:      clock,
		filter:   opts.Filter.OrDefault(),
		logger:   utils.NewLogger("logging"),
	}
}

// Identity returns the identity stamped on messages.
func (s *Service) Identity() Identity {
	return s.identity
}

// Filter returns the service-level filter.
func (s *Service) Filter() models.CategoryFilter {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return s.filter
}

// SetFilter replaces the service-level filter.
func (s *Service) SetFilter(f models.CategoryFilter) {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	s.filter = f.OrDefault()
}

// LastIndex returns the index of the most recently stamped message.
func (s *Service) LastIndex() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Service) Trace(msg string, keyvals ...any) {
	s.log(models.Trace, nil, msg, keyvals...)
}

func (s *Service) Debug(msg string, keyvals ...any) {
	s.log(models.Debug, nil, msg, keyvals...)
}

func (s *Service) Info(msg string, keyvals ...any) {
	s.log(models.Info, nil, msg, keyvals...)
}

// StartStop records a component starting or stopping.
func (s *Service) StartStop(msg string, keyvals ...any) {
	s.log(models.StartStop, nil, msg, keyvals...)
}

func (s *Service) Warning(msg string, keyvals ...any) {
	s.log(models.Warning, nil, msg, keyvals...)
}

// Error logs err with msg. err may be nil.
func (s *Service) Error(err error, msg string, keyvals ...any) {
	s.log(models.Error, err, msg, keyvals...)
}

// Fatal logs an unrecoverable failure. It does not exit the process.
func (s *Service) Fatal(err error, msg string, keyvals ...any) {
	s.log(models.Fatal, err, msg, keyvals...)
}

// Log records msg under category. None becomes Info and unknown bits are
// ignored.
func (s *Service) Log(category models.Category, err error, msg string, keyvals ...any) {
	s.log(category, err, msg, keyvals...)
}

func (s *Service) log(category models.Category, err error, msg string, keyvals ...any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Failed to log message", "panic", r)
		}
	}()

	category = category.Known()
	if category == models.None {
		category = models.Info
	}
	if !s.Filter().Allows(category) {
		return
	}

	class, method := caller(callerSkip)
	m := &models.LogMessage{
		Machine:     s.identity.Machine,
		User:        s.identity.User,
		Application: s.identity.Application,
		InstanceID:  s.identity.InstanceID,
		Version:     s.identity.Version,
		Class:       class,
		Method:      method,
		Thread:      goroutineID(),
		Category:    category,
		Message:     msg,
		Attributes:  strings.TrimPrefix(utils.FormatKeyvals(keyvals...), " "),
	}
	if err != nil {
		m.ExceptionLevel = category
		m.Exception = err.Error()
		m.StackTrace = stackTrace(err)
	}

	if err := s.enqueue(m); err != nil {
		if r, ok := s.sink.(DropReporter); ok {
			r.ReportDrop(m, err)
		}
	}
}

// enqueue stamps m and hands it to the sink in index order.
func (s *Service) enqueue(m *models.LogMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	m.Index = s.next
	m.Timestamp = s.now().UTC()
	return s.sink.TryEnqueue(m)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackTrace renders the deepest pkg/errors stack found in err's chain.
func stackTrace(err error) string {
	var deepest stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			deepest = st
		}
	}
	if deepest == nil {
		return ""
	}
	return strings.TrimPrefix(fmt.Sprintf("%+v", deepest.StackTrace()), "\n")
}
