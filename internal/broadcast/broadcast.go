// Package broadcast delivers price events to interested parties: websocket
// subscribers, the log, or several sinks at once.
package broadcast

import (
	"context"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/rickgao/kabu-market/internal/model"
)

// Notifier receives one event per applied market evaluation.
type Notifier interface {
	Notify(ctx context.Context, event model.PriceEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event model.PriceEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event model.PriceEvent) error {
	return f(ctx, event)
}

// Frame types sent to websocket subscribers.
const (
	FramePrice    = "price"
	FrameSnapshot = "snapshot"
)

// Frame is the websocket wire message.
type Frame struct {
	Type  string           `json:"type"`
	Event model.PriceEvent `json:"event"`
}

func encodeFrame(typ string, event model.PriceEvent) ([]byte, error) {
	return json.Marshal(Frame{Type: typ, Event: event})
}

// LogNotifier writes each event to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event model.PriceEvent) error {
	if event.PeriodReset {
		n.logger.Info("kabu period opened",
			"price", event.Price,
			"day", event.Day,
		)
		return nil
	}
	n.logger.Info("kabu price changed",
		"price", event.Price,
		"delta", event.Delta,
		"day", event.Day,
	)
	return nil
}
