package output

import (
	"errors"
	"testing"

	"github.com/itohio/gosck/pkg/sample"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	published []sample.Reading
	err       error
	closed    bool
}

func (r *recorder) Publish(s sample.Reading) error {
	r.published = append(r.published, s)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("broker down")}
	m := Multi{bad, ok}

	r := sample.Reading{Time: "2026-10-19 10:00:00"}
	err := m.Publish(r)
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, []sample.Reading{r}, ok.published, "later outputs still receive the reading")

	assert.Error(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)

	assert.NoError(t, Multi{}.Publish(r))
}

func TestValues(t *testing.T) {
	r := sample.Reading{}.Set(sample.Temperature, 215).Set(sample.CO, 75000).Set(sample.Nets, 3)
	v := Values(r)
	assert.Len(t, v, sample.NumChannels)
	assert.InDelta(t, 21.5, v["temp"], 1e-9)
	assert.InDelta(t, 75.0, v["co"], 1e-9)
	assert.InDelta(t, 3.0, v["nets"], 1e-9)
}
