//go:build linux

package consumer

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

type cdevWatcher struct {
	chip      string
	debounce  time.Duration
	activeLow bool
	lines     *gpiocdev.Lines
}

// NewGPIOWatcher EdgeWatcher on a Linux GPIO character device
func NewGPIOWatcher(chip string, debounce time.Duration, activeLow bool) (EdgeWatcher, error) {
	return &cdevWatcher{chip: chip, debounce: debounce, activeLow: activeLow}, nil
}

func (w *cdevWatcher) Watch(pins []int, handler EdgeHandler) error {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Offset, evt.Type == gpiocdev.LineEventRisingEdge)
		}),
	}
	if w.debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(w.debounce))
	}
	if w.activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	lines, err := gpiocdev.RequestLines(w.chip, pins, opts...)
	if err != nil {
		return fmt.Errorf("failed to request lines on %s: %w", w.chip, err)
	}

	vals := make([]int, len(pins))
	if err := lines.Values(vals); err != nil {
		lines.Close()
		return fmt.Errorf("failed to read initial levels: %w", err)
	}
	w.lines = lines

	for i, p := range pins {
		handler(p, vals[i] == 1)
	}
	return nil
}

func (w *cdevWatcher) Close() error {
	if w.lines == nil {
		return nil
	}
	return w.lines.Close()
}
