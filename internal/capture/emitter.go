package capture

import (
	"errors"
	"sync"

	"github.com/satriahrh/geminiplay/domain"
)

// emitter serializes callback delivery for one capture run. Once stop returns
// no further emit call reaches its callback.
type emitter struct {
	mu      sync.Mutex
	stopped bool
}

func (e *emitter) emit(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	fn()
	return true
}

func (e *emitter) stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

// ErrStartCancelled is returned by Start when Stop ran before the device
// finished opening
var ErrStartCancelled = errors.New("capture stopped while starting")

// startError maps a driver error onto the capture error taxonomy
func startError(op string, err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) {
		return domain.NewError(domain.KindPermissionDenied, op, "", err)
	}
	if errors.Is(err, domain.ErrNotSupported) {
		return domain.NewError(domain.KindNotSupported, op, "", err)
	}
	return domain.NewError(domain.KindStartFailed, op, "", err)
}
