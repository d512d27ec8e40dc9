// Package notify defines the one-way user notification sink used to surface
// migrations, repairs, recoveries, and quota warnings. Presentation is out of
// scope; consumers decide what a notification looks like.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Severity classifies a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	return []string{"info", "warning", "error"}[s]
}

// Notifier is a one-way notification sink. Implementations must not block
// the caller for long; the engine notifies from its load/write paths.
type Notifier interface {
	Notify(message string, severity Severity)
}

// Func adapts a function to the Notifier interface.
type Func func(message string, severity Severity)

// Notify implements Notifier.
func (f Func) Notify(message string, severity Severity) { f(message, severity) }

// Discard is a Notifier that drops everything.
var Discard = Func(func(string, Severity) {})

// LogNotifier emits notifications through a logrus logger.
type LogNotifier struct {
	log *logrus.Logger
}

// NewLogNotifier creates a Notifier backed by log. A nil log uses the logrus
// standard logger.
func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(message string, severity Severity) {
	entry := n.log.WithField("severity", severity.String())
	switch severity {
	case SeverityError:
		entry.Error(message)
	case SeverityWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Event is one captured notification.
type Event struct {
	Message  string
	Severity Severity
}

// Recorder is a Notifier that captures events, for tests and the admin
// status endpoint.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder creates a Recorder that keeps at most limit events (0 means
// unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify implements Notifier.
func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Message: message, Severity: severity})
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(message string, severity Severity) {
	for _, n := range m {
		n.Notify(message, severity)
	}
}
