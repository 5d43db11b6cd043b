package downloader

// EventType distinguishes progress heartbeats from terminal completion.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
)

// Event is a status update reported by a running download.
//
// For the symlink strategy the byte fields are overloaded: BytesDone carries
// the poll attempt index, BytesTotal the retry ceiling, and Speed is the
// constant 1. Consumers must not assume unit consistency across strategies.
type Event struct {
	DownloadID int64     `json:"downloadId"`
	Type       EventType `json:"type"`
	BytesDone  int64     `json:"bytesDone"`
	BytesTotal int64     `json:"bytesTotal"`
	Speed      int64     `json:"speed"`
	Error      string    `json:"error,omitempty"`
}

// Reporter receives events from a running download strategy.
type Reporter interface {
	Progress(id int64, done, total, speed int64)
	Completed(id int64, err error)
}

// ChanReporter forwards events to a channel. Sends never block: when the
// channel is full the event is dropped, so a stalled consumer cannot wedge
// the download itself.
type ChanReporter struct {
	ch chan<- Event
}

// NewChanReporter wraps an event channel in a Reporter.
func NewChanReporter(ch chan<- Event) *ChanReporter {
	return &ChanReporter{ch: ch}
}

func (r *ChanReporter) Progress(id int64, done, total, speed int64) {
	r.send(Event{DownloadID: id, Type: EventProgress, BytesDone: done, BytesTotal: total, Speed: speed})
}

func (r *ChanReporter) Completed(id int64, err error) {
	e := Event{DownloadID: id, Type: EventComplete}
	if err != nil {
		e.Error = err.Error()
	}
	r.send(e)
}

func (r *ChanReporter) send(e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

// NopReporter discards all events. Useful for callers that only care about
// the Download return value.
type NopReporter struct{}

func (NopReporter) Progress(int64, int64, int64, int64) {}
func (NopReporter) Completed(int64, error)              {}
