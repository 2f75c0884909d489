//go:build !linux

package consumer

import "time"

// NewGPIOWatcher GPIO character devices exist only on Linux
func NewGPIOWatcher(string, time.Duration, bool) (EdgeWatcher, error) {
	return nil, ErrGPIOUnsupported
}
