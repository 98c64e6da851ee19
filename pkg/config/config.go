package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the controller boot configuration.
type Config struct {
	Board    BoardConfig    `yaml:"board"`
	Serial   SerialConfig   `yaml:"serial"`
	Bus      BusConfig      `yaml:"bus"`
	Network  NetworkConfig  `yaml:"network"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Store    StoreConfig    `yaml:"store"`
	Output   OutputConfig   `yaml:"output"`
	Mock     MockConfig     `yaml:"mock"`
}

// BoardConfig holds the analog front end constants of a kit revision.
type BoardConfig struct {
	Name string  `yaml:"name"`
	Vcc  float64 `yaml:"vcc"` // Supply voltage (mV)

	PotResolution int     `yaml:"pot_resolution"` // Digital potentiometer steps
	PotResistance float64 `yaml:"pot_resistance"` // Digital potentiometer full scale (kΩ)
	RegulatorR1   float64 `yaml:"regulator_r1"`   // Heater regulator feedback resistor (kΩ)
	HeaterStep    float64 `yaml:"heater_step"`    // Heater regulator mV per unit

	CO  GasConfig `yaml:"co"`
	NO2 GasConfig `yaml:"no2"`

	TemperatureOffset int `yaml:"temperature_offset"` // Correction subtracted from temperature (tenths of °C)
	NoiseGain         int `yaml:"noise_gain"`         // Microphone amplifier gain preset (0 = fixed gain)
}

// GasConfig describes one heated gas sensor.
type GasConfig struct {
	HeaterMilliamps float64 `yaml:"heater_milliamps"` // Regulated heater current (mA)
	SenseResistor   float64 `yaml:"sense_resistor"`   // Heater series reference resistor Rc (Ω)
	Supply          float64 `yaml:"supply"`           // Sensor bias voltage (mV)
	HeaterStart     float64 `yaml:"heater_start"`     // Heater voltage at start (mV)
	LoadStart       float64 `yaml:"load_start"`       // Load resistor at start (Ω)
}

// SerialConfig contains modem serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// BusConfig contains I²C and GPIO wiring.
type BusConfig struct {
	I2C            string   `yaml:"i2c"` // Bus name, empty for the first available bus
	ADCAddresses   []uint16 `yaml:"adc_addresses"`
	PotAddresses   []uint16 `yaml:"pot_addresses"`
	ClimateAddress uint16   `yaml:"climate_address"`
	HeaterPins     []string `yaml:"heater_pins"` // CO, NO2
	AwakePin       string   `yaml:"awake_pin"`
}

// NetworkConfig contains collector and Wi-Fi parameters.
type NetworkConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	TimeHost   string        `yaml:"time_host"`
	AckMarker  string        `yaml:"ack_marker"`
	Version    string        `yaml:"version"`
	MAC        string        `yaml:"mac"`
	APIKey     string        `yaml:"api_key"`
	BatchMax   int           `yaml:"batch_max"`
	Attempts   int           `yaml:"attempts"`
	RetryPause time.Duration `yaml:"retry_pause"`
	Networks   []WiFiConfig  `yaml:"networks"`
}

// WiFiConfig is one known access point.
type WiFiConfig struct {
	SSID   string `yaml:"ssid"`
	Phrase string `yaml:"phrase"`
}

// ScheduleConfig contains the defaults seeded into an empty store.
type ScheduleConfig struct {
	Mode           string `yaml:"mode"`
	UpdateInterval int    `yaml:"update_interval"` // Seconds between cycles
	BatchThreshold int    `yaml:"batch_threshold"` // Readings buffered before a flush
}

// StoreConfig contains non-volatile image parameters.
type StoreConfig struct {
	Dir          string `yaml:"dir"` // Empty keeps the store in memory
	ConfigSize   int    `yaml:"config_size"`
	DataCapacity int    `yaml:"data_capacity"`
	TimeWidth    int    `yaml:"time_width"`
}

// OutputConfig contains diagnostic outputs.
type OutputConfig struct {
	Console     bool       `yaml:"console"`
	MetricsAddr string     `yaml:"metrics_addr"`
	MQTT        MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains the MQTT diagnostic publisher settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // Empty disables MQTT
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// MockConfig contains simulated hardware parameters.
type MockConfig struct {
	Networks    int     `yaml:"networks"`     // Access points reported by scans
	GasCounts   int     `yaml:"gas_counts"`   // Load channel ADC level
	ClimateTemp float64 `yaml:"climate_temp"` // °C
	ClimateHum  float64 `yaml:"climate_hum"`  // %RH
}

// Default returns a default configuration for the 5 V kit revision.
func Default() *Config {
	return &Config{
		Board: BoardConfig{
			Name:          "sck-1.0",
			Vcc:           5000,
			PotResolution: 256,
			PotResistance: 100,
			RegulatorR1:   12,
			HeaterStep:    1.2,
			CO: GasConfig{
				HeaterMilliamps: 32,
				SenseResistor:   10,
				Supply:          5000,
				HeaterStart:     2400,
				LoadStart:       100000,
			},
			NO2: GasConfig{
				HeaterMilliamps: 26,
				SenseResistor:   39,
				Supply:          5000,
				HeaterStart:     1700,
				LoadStart:       100000,
			},
		},
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    9600,
			ReadTimeout: 50 * time.Millisecond,
		},
		Bus: BusConfig{
			ADCAddresses:   []uint16{0x48, 0x49},
			PotAddresses:   []uint16{0x2E, 0x2F},
			ClimateAddress: 0x76,
			HeaterPins:     []string{"GPIO17", "GPIO27"},
			AwakePin:       "GPIO22",
		},
		Network: NetworkConfig{
			Host:       "data.smartcitizen.me",
			Port:       80,
			TimeHost:   "data.smartcitizen.me",
			AckMarker:  "200 OK",
			Version:    "1.0-0.9.0",
			BatchMax:   20,
			Attempts:   5,
			RetryPause: time.Second,
		},
		Schedule: ScheduleConfig{
			Mode:           "normal",
			UpdateInterval: 60,
			BatchThreshold: 1,
		},
		Store: StoreConfig{
			ConfigSize:   1024,
			DataCapacity: 32768,
			TimeWidth:    20,
		},
		Output: OutputConfig{
			Console:     true,
			MetricsAddr: ":9090",
			MQTT: MQTTConfig{
				Topic:    "sck/readings",
				ClientID: "gosck",
			},
		},
		Mock: MockConfig{
			Networks:    3,
			GasCounts:   512,
			ClimateTemp: 21.5,
			ClimateHum:  45,
		},
	}
}

// Profile3V3 returns the board constants of the 3.3 V kit revision.
func Profile3V3() BoardConfig {
	b := Default().Board
	b.Name = "sck-1.1"
	b.Vcc = 3300
	b.HeaterStep = 0.41
	b.CO.Supply = 2734
	b.CO.HeaterStart = 2700
	b.NO2.Supply = 2734
	b.NoiseGain = 10000
	return b
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Board.Vcc == 0 {
		c.Board.Vcc = def.Board.Vcc
	}
	if c.Board.PotResolution == 0 {
		c.Board.PotResolution = def.Board.PotResolution
	}
	if c.Board.PotResistance == 0 {
		c.Board.PotResistance = def.Board.PotResistance
	}
	if c.Board.RegulatorR1 == 0 {
		c.Board.RegulatorR1 = def.Board.RegulatorR1
	}
	if c.Board.HeaterStep == 0 {
		c.Board.HeaterStep = def.Board.HeaterStep
	}
	ensureGas(&c.Board.CO, def.Board.CO)
	ensureGas(&c.Board.NO2, def.Board.NO2)

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if len(c.Bus.ADCAddresses) == 0 {
		c.Bus.ADCAddresses = def.Bus.ADCAddresses
	}
	if len(c.Bus.PotAddresses) == 0 {
		c.Bus.PotAddresses = def.Bus.PotAddresses
	}
	if c.Bus.ClimateAddress == 0 {
		c.Bus.ClimateAddress = def.Bus.ClimateAddress
	}
	if len(c.Bus.HeaterPins) == 0 {
		c.Bus.HeaterPins = def.Bus.HeaterPins
	}

	if c.Network.Host == "" {
		c.Network.Host = def.Network.Host
	}
	if c.Network.Port == 0 {
		c.Network.Port = def.Network.Port
	}
	if c.Network.TimeHost == "" {
		c.Network.TimeHost = c.Network.Host
	}
	if c.Network.Version == "" {
		c.Network.Version = def.Network.Version
	}
	if c.Network.BatchMax <= 0 {
		c.Network.BatchMax = def.Network.BatchMax
	}
	if c.Network.Attempts <= 0 {
		c.Network.Attempts = def.Network.Attempts
	}
	if c.Network.RetryPause == 0 {
		c.Network.RetryPause = def.Network.RetryPause
	}

	if c.Schedule.Mode == "" {
		c.Schedule.Mode = def.Schedule.Mode
	}
	if c.Schedule.UpdateInterval <= 0 {
		c.Schedule.UpdateInterval = def.Schedule.UpdateInterval
	}
	if c.Schedule.BatchThreshold <= 0 {
		c.Schedule.BatchThreshold = def.Schedule.BatchThreshold
	}

	if c.Store.ConfigSize == 0 {
		c.Store.ConfigSize = def.Store.ConfigSize
	}
	if c.Store.DataCapacity == 0 {
		c.Store.DataCapacity = def.Store.DataCapacity
	}
	if c.Store.TimeWidth == 0 {
		c.Store.TimeWidth = def.Store.TimeWidth
	}

	if c.Output.MQTT.Topic == "" {
		c.Output.MQTT.Topic = def.Output.MQTT.Topic
	}
	if c.Output.MQTT.ClientID == "" {
		c.Output.MQTT.ClientID = def.Output.MQTT.ClientID
	}
}

func ensureGas(g *GasConfig, def GasConfig) {
	if g.HeaterMilliamps == 0 {
		g.HeaterMilliamps = def.HeaterMilliamps
	}
	if g.SenseResistor == 0 {
		g.SenseResistor = def.SenseResistor
	}
	if g.Supply == 0 {
		g.Supply = def.Supply
	}
	if g.HeaterStart == 0 {
		g.HeaterStart = def.HeaterStart
	}
	if g.LoadStart == 0 {
		g.LoadStart = def.LoadStart
	}
}
