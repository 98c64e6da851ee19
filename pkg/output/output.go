// Package output publishes finished readings to diagnostic sinks.
package output

import (
	"errors"

	"github.com/itohio/gosck/pkg/sample"
)

type Output interface {
	Publish(sample.Reading) error
	Close() error
}

// Multi fans a reading out to every output. All outputs are tried; the
// errors are joined.
type Multi []Output

func (m Multi) Publish(r sample.Reading) error {
	var errs []error
	for _, o := range m {
		if err := o.Publish(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, o := range m {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Values returns the display value of every channel keyed by wire label.
func Values(r sample.Reading) map[string]float64 {
	out := make(map[string]float64, sample.NumChannels)
	for c := sample.Channel(0); c < sample.NumChannels; c++ {
		out[c.String()] = r.Display(c)
	}
	return out
}
