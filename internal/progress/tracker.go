// Package progress converts a noisy narration event stream from external
// collaborators into rate-limited, monotonic progress updates.
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"autodubber/internal/domain"
)

// Kind classifies a narration event.
type Kind string

const (
	KindProgress Kind = "progress"
	KindError    Kind = "error"
)

// Event is one typed narration item emitted by a collaborator while a stage
// runs.
type Event struct {
	Kind Kind
	Text string
}

// Sink receives narration events from a collaborator invocation.
type Sink func(Event)

// Progressf emits a formatted progress narration line.
func (s Sink) Progressf(format string, args ...any) {
	if s != nil {
		s(Event{Kind: KindProgress, Text: fmt.Sprintf(format, args...)})
	}
}

// Errorf emits a formatted error narration line.
func (s Sink) Errorf(format string, args ...any) {
	if s != nil {
		s(Event{Kind: KindError, Text: fmt.Sprintf(format, args...)})
	}
}

// Update is the structured result of one batch flush: the latest activity
// label and, when it advanced, a new progress percentage.
type Update struct {
	Activity string
	Progress *float64
}

// band maps a known phrase fragment to a fixed percentage. Order encodes
// priority: the first matching fragment wins.
type band struct {
	fragment string
	percent  float64
}

// phraseBands covers the five pipeline phases at non-overlapping percentage
// bands.
var phraseBands = []band{
	// Audio extraction, 0-15%.
	{"audio extraction", 10},
	{"extracting audio", 5},
	{"extracted audio", 15},
	// Transcription, 15-40%.
	{"loading whisper", 18},
	{"whisper model loaded", 20},
	{"beginning transcription", 25},
	{"transcribing", 30},
	{"transcription completed", 40},
	// TTS generation, 40-80%.
	{"generating tts", 45},
	{"tts generating segment", 55},
	{"voiceover assembly", 70},
	{"voiceover assembly completed", 80},
	// Final video creation, 80-100%.
	{"creating final video", 85},
	{"encoding final video", 95},
	{"completed successfully", 100},
}

// statusFloors supplies a default percentage per stage when no phrase
// matches, applied only when it exceeds the watermark.
var statusFloors = map[domain.JobStatus]float64{
	domain.StatusExtractingMedia:      8,
	domain.StatusTranscribing:         25,
	domain.StatusAwaitingConfirmation: 40,
	domain.StatusConfirmed:            45,
	domain.StatusSynthesizing:         60,
	domain.StatusAssemblingAudio:      75,
	domain.StatusAssemblingVideo:      90,
	domain.StatusAdjustingSpeed:       85,
	domain.StatusRenderingAdjusted:    95,
}

// DefaultFlushInterval is the elapsed-time threshold between batch flushes.
const DefaultFlushInterval = 300 * time.Millisecond

// Tracker buffers narration lines for one job and flushes them as at most
// one structured update per interval. Emitted progress is strictly
// increasing; the watermark can also be raised externally via Advance so the
// engine never contradicts stage-boundary floors.
type Tracker struct {
	interval time.Duration
	now      func() time.Time
	status   func() domain.JobStatus
	emit     func(Update)
	onError  func(string)

	mu        sync.Mutex
	lastFlush time.Time
	buffer    []string
	watermark float64
}

// NewTracker creates a tracker for one job. status supplies the job's
// current stage for the fallback table, emit receives flushed updates, and
// onError receives error narration text.
func NewTracker(interval time.Duration, status func() domain.JobStatus, emit func(Update), onError func(string)) *Tracker {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	t := &Tracker{
		interval: interval,
		now:      time.Now,
		status:   status,
		emit:     emit,
		onError:  onError,
	}
	t.lastFlush = t.now()
	return t
}

// Observe consumes one narration event. Error events are intercepted
// immediately and never buffered; progress events flush once the interval
// since the last flush has elapsed.
func (t *Tracker) Observe(ev Event) {
	if ev.Kind == KindError {
		if t.onError != nil {
			t.onError(ev.Text)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.buffer = append(t.buffer, ev.Text)
	if now := t.now(); now.Sub(t.lastFlush) >= t.interval {
		t.flushLocked(now)
	}
}

// Advance raises the watermark to at least v, typically at a stage boundary.
func (t *Tracker) Advance(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v > t.watermark {
		t.watermark = v
	}
}

// Close flushes any remaining buffered lines at stream end.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked(t.now())
}

// flushLocked emits at most one update from the buffered batch. Empty
// buffer is a no-op.
func (t *Tracker) flushLocked(now time.Time) {
	if len(t.buffer) == 0 {
		return
	}

	latest := t.buffer[len(t.buffer)-1]
	resolved, matched := matchPhrase(latest)

	if !matched {
		if floor, ok := statusFloors[t.status()]; ok && floor > t.watermark {
			resolved = floor
			matched = true
		}
	}
	if !matched && t.watermark < 99 {
		resolved = t.watermark + 1
		matched = true
	}

	update := Update{Activity: latest}
	if matched && resolved > t.watermark {
		t.watermark = resolved
		update.Progress = &resolved
	}
	t.emit(update)

	t.buffer = nil
	t.lastFlush = now
}

// matchPhrase scans the band table in priority order for a case-insensitive
// substring match.
func matchPhrase(line string) (float64, bool) {
	lower := strings.ToLower(line)
	for _, b := range phraseBands {
		if strings.Contains(lower, b.fragment) {
			return b.percent, true
		}
	}
	return 0, false
}
