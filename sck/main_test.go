package main

import (
	"log/slog"
	"testing"

	"github.com/itohio/gosck/pkg/afe"
	"github.com/itohio/gosck/pkg/config"
	"github.com/itohio/gosck/pkg/gas"
	"github.com/itohio/gosck/pkg/modem"
	"github.com/itohio/gosck/pkg/scheduler"
	"github.com/itohio/gosck/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.DiscardHandler)

func TestDefaultSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Network.MAC = "00:06:66:aa:bb:cc"
	cfg.Network.Networks = []config.WiFiConfig{{SSID: "home", Phrase: "pw"}}

	s := defaultSettings(cfg, scheduler.Economic)
	assert.Equal(t, int32(scheduler.Economic), s.Mode)
	assert.Equal(t, int32(60), s.UpdateInterval)
	assert.Equal(t, int32(1), s.BatchThreshold)
	assert.Equal(t, "00:06:66:aa:bb:cc", s.MAC)
	assert.Equal(t, []store.Network{{SSID: "home", Phrase: "pw"}}, s.Networks)
}

func TestBoardProfiles(t *testing.T) {
	assert.Equal(t, gas.Wiring5V, wiringOf(config.Default().Board))
	assert.Equal(t, gas.Wiring3V3, wiringOf(config.Profile3V3()))

	b := boardOf(config.Profile3V3())
	assert.Equal(t, float32(3300), b.Vcc)
	assert.Equal(t, 256, b.Resolution)

	no2 := gasSensor("no2", config.Default().Board.NO2, 1)
	assert.Equal(t, afe.HeaterNO2, no2.HeaterChannel)
	assert.Equal(t, afe.LoadNO2, no2.LoadChannel)
	assert.Equal(t, float32(39), no2.SenseResistor)
}

func TestOpenStore(t *testing.T) {
	st, closeFn, err := openStore(config.StoreConfig{ConfigSize: 1024, DataCapacity: 4096})
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, st)
	assert.NoError(t, closeFn())

	st, closeFn, err = openStore(config.StoreConfig{Dir: t.TempDir(), ConfigSize: 1024, DataCapacity: 4096})
	require.NoError(t, err)
	assert.IsType(t, &store.File{}, st)
	assert.NoError(t, closeFn())
}

func TestMockHardware(t *testing.T) {
	cfg := config.Default()
	cfg.Network.TimeHost = "time.example"
	hw := mockHardware(cfg, quiet)

	counts, err := hw.adapter.AverageSample(afe.LoadCO)
	require.NoError(t, err)
	assert.Equal(t, cfg.Mock.GasCounts, counts)
	assert.Equal(t, cfg.Mock.Networks, hw.radio.Scan())

	env, err := hw.climate.Sense()
	require.NoError(t, err)
	assert.Equal(t, cfg.Mock.ClimateTemp, env.Temperature)

	require.True(t, hw.radio.OpenSession("time.example", 80))
	assert.True(t, hw.radio.FindMarker("UTC:", 0))
	hw.radio.Close()

	require.True(t, hw.radio.OpenSession(cfg.Network.Host, 80))
	assert.True(t, hw.radio.FindMarker(cfg.Network.AckMarker, 0))

	sessions := hw.radio.(*modem.Mock).Sessions
	assert.Len(t, sessions, 2)
	assert.NoError(t, hw.close())
}

func TestOpenOutputs(t *testing.T) {
	outs, err := openOutputs(config.OutputConfig{Console: true}, quiet)
	require.NoError(t, err)
	assert.Len(t, outs, 1)

	outs, err = openOutputs(config.OutputConfig{}, quiet)
	require.NoError(t, err)
	assert.Empty(t, outs)
}
