package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// RunReporter ties one run to an Emitter. It implements crawler.ProgressSink:
// every pipeline report is forwarded synchronously to the caller's sink and
// then emitted as a RUN_PROGRESS event.
type RunReporter struct {
	emitter Emitter
	next    crawler.ProgressSink
	runID   [16]byte
	source  string
	now     func() time.Time
}

var _ crawler.ProgressSink = (*RunReporter)(nil)

// NewRunReporter builds a reporter. emitter and next may be nil.
func NewRunReporter(emitter Emitter, runID uuid.UUID, source string, next crawler.ProgressSink, now func() time.Time) *RunReporter {
	if now == nil {
		now = time.Now
	}
	return &RunReporter{
		emitter: emitter,
		next:    next,
		runID:   UUIDToBytes(runID),
		source:  source,
		now:     now,
	}
}

// Report implements crawler.ProgressSink.
func (r *RunReporter) Report(percent int, message string) {
	if r.next != nil {
		r.next.Report(percent, message)
	}
	r.emit(Event{Stage: StageRunProgress, Percent: percent, Message: message})
}

// Start emits RUN_START.
func (r *RunReporter) Start(days int, trigger string) {
	r.emit(Event{Stage: StageRunStart, Days: days, Trigger: trigger})
}

// Done emits RUN_DONE.
func (r *RunReporter) Done(results int, dur time.Duration) {
	r.emit(Event{Stage: StageRunDone, Percent: 100, Results: results, Dur: dur})
}

// Fail emits RUN_ERROR with err's text as the note.
func (r *RunReporter) Fail(err error, dur time.Duration) {
	note := ""
	if err != nil {
		note = err.Error()
	}
	r.emit(Event{Stage: StageRunError, Dur: dur, Note: note})
}

func (r *RunReporter) emit(evt Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Source = r.source
	evt.TS = r.now().UTC()
	r.emitter.Emit(evt)
}
