// Package console logs readings.
package console

import (
	"log/slog"

	"github.com/itohio/gosck/pkg/output"
	"github.com/itohio/gosck/pkg/sample"
)

type ConsoleOutput struct {
	logger *slog.Logger
}

func NewConsole(logger *slog.Logger) output.Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleOutput{logger: logger}
}

func (c *ConsoleOutput) Publish(r sample.Reading) error {
	attrs := make([]any, 0, sample.NumChannels+1)
	for ch := sample.Channel(0); ch < sample.NumChannels; ch++ {
		attrs = append(attrs, slog.Float64(ch.String(), r.Display(ch)))
	}
	attrs = append(attrs, slog.String("timestamp", r.Time))
	c.logger.Info("Reading", attrs...)
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
