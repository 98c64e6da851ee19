package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, float64(5000), cfg.Board.Vcc)
	assert.Equal(t, 256, cfg.Board.PotResolution)
	assert.Equal(t, float64(32), cfg.Board.CO.HeaterMilliamps)
	assert.Equal(t, float64(26), cfg.Board.NO2.HeaterMilliamps)
	assert.Equal(t, float64(100000), cfg.Board.CO.LoadStart)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 20, cfg.Network.BatchMax)
	assert.Equal(t, 5, cfg.Network.Attempts)
	assert.Equal(t, "200 OK", cfg.Network.AckMarker)
	assert.Equal(t, "normal", cfg.Schedule.Mode)
	assert.Equal(t, 60, cfg.Schedule.UpdateInterval)
	assert.Equal(t, 1, cfg.Schedule.BatchThreshold)
	assert.Equal(t, 20, cfg.Store.TimeWidth)
	assert.Equal(t, []uint16{0x48, 0x49}, cfg.Bus.ADCAddresses)
}

func TestProfile3V3(t *testing.T) {
	b := Profile3V3()

	assert.Equal(t, float64(3300), b.Vcc)
	assert.Equal(t, 0.41, b.HeaterStep)
	assert.Equal(t, float64(2700), b.CO.HeaterStart)
	assert.Equal(t, 10000, b.NoiseGain)
	assert.Equal(t, float64(5000), Default().Board.Vcc, "default profile untouched")
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
board:
  name: custom
  vcc: 3300
  heater_step: 0.41
  co:
    heater_milliamps: 30
serial:
  port: "/dev/ttyAMA0"
  read_timeout: 100ms
network:
  batch_max: 10
  api_key: "abc"
  networks:
    - ssid: home
      phrase: secret
schedule:
  mode: economic
  update_interval: 30
  batch_threshold: 3
store:
  dir: /var/lib/gosck
output:
  mqtt:
    broker: tcp://localhost:1883
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "custom", cfg.Board.Name)
	assert.Equal(t, float64(3300), cfg.Board.Vcc)
	assert.Equal(t, float64(30), cfg.Board.CO.HeaterMilliamps)
	assert.Equal(t, float64(10), cfg.Board.CO.SenseResistor) // default
	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 10, cfg.Network.BatchMax)
	assert.Equal(t, "abc", cfg.Network.APIKey)
	require.Len(t, cfg.Network.Networks, 1)
	assert.Equal(t, "home", cfg.Network.Networks[0].SSID)
	assert.Equal(t, "economic", cfg.Schedule.Mode)
	assert.Equal(t, 30, cfg.Schedule.UpdateInterval)
	assert.Equal(t, 3, cfg.Schedule.BatchThreshold)
	assert.Equal(t, "/var/lib/gosck", cfg.Store.Dir)
	assert.Equal(t, "tcp://localhost:1883", cfg.Output.MQTT.Broker)
	assert.Equal(t, "sck/readings", cfg.Output.MQTT.Topic) // default
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
network:
  host: collector.local
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, float64(5000), cfg.Board.Vcc)
	assert.Equal(t, "collector.local", cfg.Network.Host)
	assert.Equal(t, "data.smartcitizen.me", cfg.Network.TimeHost)
	assert.Equal(t, 20, cfg.Network.BatchMax)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyS1"
	cfg.Schedule.UpdateInterval = 120

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS1", loaded.Serial.Port)
	assert.Equal(t, 120, loaded.Schedule.UpdateInterval)
}
