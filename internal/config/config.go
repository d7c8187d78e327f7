package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mixer"
	"github.com/relabs-tech/quad_controller/internal/pid"
)

// Config holds all flight controller configuration values. Fields with an env
// tag can be overridden from the environment after the file is read.
type Config struct {
	// Loop
	LoopPeriodMS        int `env:"QUAD_LOOP_PERIOD_MS"`
	TelemetryIntervalMS int `env:"QUAD_TELEMETRY_INTERVAL_MS"`
	LinkTimeoutMS       int `env:"QUAD_LINK_TIMEOUT_MS"`
	SensorFaultTicks    int `env:"QUAD_SENSOR_FAULT_TICKS"`
	BaroEvery           int `env:"QUAD_BARO_EVERY"` // ticks between barometer reads, 0 disables

	// Estimator
	GyroWeight   float64 `env:"QUAD_GYRO_WEIGHT"`
	GyroLimitDPS float64 `env:"QUAD_GYRO_LIMIT_DPS"`
	AccelMinG    float64 `env:"QUAD_ACCEL_MIN_G"`
	AccelMaxG    float64 `env:"QUAD_ACCEL_MAX_G"`

	// Pilot input
	MaxRateRoll   float64 `env:"QUAD_MAX_RATE_ROLL"`
	MaxRatePitch  float64 `env:"QUAD_MAX_RATE_PITCH"`
	MaxRateYaw    float64 `env:"QUAD_MAX_RATE_YAW"`
	StickDeadband float64 `env:"QUAD_STICK_DEADBAND"`

	// Mixer. Gains come from PID_* keys, then PID_PROFILE if set.
	Gains         mixer.Gains
	PIDProfile    string  `env:"QUAD_PID_PROFILE"`
	FrameLayout   string  `env:"QUAD_FRAME_LAYOUT"`
	DutyMax       float64 `env:"QUAD_DUTY_MAX"`
	HoverThrottle float64 `env:"QUAD_HOVER_THROTTLE"`
	MaxClimbRate  float64 `env:"QUAD_MAX_CLIMB_RATE"`

	// Numeric representation: float or fixed (Q format with NumericFracBits)
	NumericMode     string `env:"QUAD_NUMERIC_MODE"`
	NumericFracBits int    `env:"QUAD_NUMERIC_FRAC_BITS"`

	// Sensors
	SensorSource       string  `env:"QUAD_SENSOR_SOURCE"` // mpu9250 or sim
	IMUSPIDevice       string  `env:"QUAD_IMU_SPI_DEVICE"`
	IMUCSPin           string  `env:"QUAD_IMU_CS_PIN"`
	IMUAccelRange      byte    `env:"QUAD_IMU_ACCEL_RANGE"` // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUGyroRange       byte    `env:"QUAD_IMU_GYRO_RANGE"`  // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUSelfTest        bool    `env:"QUAD_IMU_SELF_TEST"`
	IMUCalibrationFile string  `env:"QUAD_IMU_CALIBRATION_FILE"`
	BaroSPIDevice      string  `env:"QUAD_BARO_SPI_DEVICE"` // empty: no barometer
	BaroReferencePa    float64 `env:"QUAD_BARO_REFERENCE_PA"`

	// Motors
	MotorOutput       string  `env:"QUAD_MOTOR_OUTPUT"` // pca9685 or sim
	MotorI2CBus       string  `env:"QUAD_MOTOR_I2C_BUS"`
	MotorI2CAddr      uint16  `env:"QUAD_MOTOR_I2C_ADDR"`
	MotorChannels     [4]int
	MotorPWMFreqHz    float64 `env:"QUAD_MOTOR_PWM_FREQ_HZ"`
	MotorPulseMinUS   float64 `env:"QUAD_MOTOR_PULSE_MIN_US"`
	MotorPulseMaxUS   float64 `env:"QUAD_MOTOR_PULSE_MAX_US"`
	MotorESCCalibrate bool    `env:"QUAD_MOTOR_ESC_CALIBRATE"`

	// Receiver
	ReceiverSource     string `env:"QUAD_RECEIVER_SOURCE"` // mqtt, serial or sim
	ReceiverSerialPort string `env:"QUAD_RECEIVER_SERIAL_PORT"`
	ReceiverBaudRate   uint   `env:"QUAD_RECEIVER_BAUD_RATE"`

	// MQTT
	MQTTBroker     string `env:"QUAD_MQTT_BROKER"`
	MQTTClientID   string `env:"QUAD_MQTT_CLIENT_ID"`
	TopicPilot     string `env:"QUAD_TOPIC_PILOT"`
	TopicTelemetry string `env:"QUAD_TOPIC_TELEMETRY"`

	// Telemetry serial link; empty port disables it
	TelemetrySerialPort string `env:"QUAD_TELEMETRY_SERIAL_PORT"`
	TelemetryBaudRate   uint   `env:"QUAD_TELEMETRY_BAUD_RATE"`
	TelemetryEncoding   string `env:"QUAD_TELEMETRY_ENCODING"` // sentence or frame

	// Web Server; 0 disables it
	WebServerPort int    `env:"QUAD_WEB_SERVER_PORT"`
	WebStaticDir  string `env:"QUAD_WEB_STATIC_DIR"` // empty: API only

	// Display; address 0 disables it
	DisplayI2CBus  string `env:"QUAD_DISPLAY_I2C_BUS"`
	DisplayI2CAddr uint16 `env:"QUAD_DISPLAY_I2C_ADDR"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the bench frame configuration. Every key in a file
// overrides one of these values.
func Default() *Config {
	rate := pid.Config{Kp: 0.0035, Ki: 0.002, Kd: 0.0001, Min: -0.5, Max: 0.5, WindupMargin: 0.25}
	return &Config{
		LoopPeriodMS:        5,
		TelemetryIntervalMS: 100,
		LinkTimeoutMS:       500,
		SensorFaultTicks:    10,
		BaroEvery:           4,

		GyroWeight:   0.98,
		GyroLimitDPS: 2000,
		AccelMinG:    0.2,
		AccelMaxG:    4,

		MaxRatePitch:  200,
		MaxRateRoll:   200,
		MaxRateYaw:    150,
		StickDeadband: 0.15,

		Gains: mixer.Gains{
			Roll:     rate,
			Pitch:    rate,
			Yaw:      pid.Config{Kp: 0.006, Ki: 0.002, Min: -0.3, Max: 0.3, WindupMargin: 0.15},
			Altitude: pid.Config{Kp: 0.2, Ki: 0.05, Min: -0.3, Max: 0.3, WindupMargin: 0.15},
		},
		FrameLayout:   "x",
		DutyMax:       1,
		HoverThrottle: 0.5,
		MaxClimbRate:  2,

		NumericMode:     "float",
		NumericFracBits: 12,

		SensorSource:  "mpu9250",
		IMUSPIDevice:  "/dev/spidev0.0",
		IMUCSPin:      "GPIO8",
		IMUAccelRange: 2,
		IMUGyroRange:  3,

		MotorOutput:     "pca9685",
		MotorI2CBus:     "/dev/i2c-1",
		MotorI2CAddr:    0x40,
		MotorChannels:   [4]int{0, 1, 2, 3},
		MotorPWMFreqHz:  50,
		MotorPulseMinUS: 1000,
		MotorPulseMaxUS: 2000,

		ReceiverSource:   "mqtt",
		ReceiverBaudRate: 57600,

		MQTTBroker:     "tcp://localhost:1883",
		MQTTClientID:   "quad-flight",
		TopicPilot:     "quad/pilot",
		TopicTelemetry: "quad/telemetry",

		TelemetryBaudRate: 57600,
		TelemetryEncoding: "sentence",

		WebServerPort: 8080,
		DisplayI2CBus: "/dev/i2c-1",
	}
}

// Load reads a KEY=VALUE file over the defaults, applies environment
// overrides and the gain profile, and validates the result.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "config", fmt.Errorf("failed to open config file: %w", err))
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fault.New(fault.ConfigurationError, "config", fmt.Sprintf("invalid config line %d: %q", lineNum, line))
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fault.Wrap(fault.ConfigurationError, "config", fmt.Errorf("line %d: %w", lineNum, err))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "config", fmt.Errorf("error reading config file: %w", err))
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies environment overrides and the gain profile, then validates.
func (c *Config) finish() error {
	if err := env.Parse(c); err != nil {
		return fault.Wrap(fault.ConfigurationError, "config", fmt.Errorf("environment: %w", err))
	}
	if c.PIDProfile != "" {
		if err := LoadGainProfile(c.PIDProfile, &c.Gains); err != nil {
			return fault.Wrap(fault.ConfigurationError, "config", err)
		}
	}
	if err := c.validate(); err != nil {
		return fault.Wrap(fault.ConfigurationError, "config", err)
	}
	return nil
}

// LoadGainProfile overlays the axes present in a YAML gain file:
//
//	roll:  {kp: 0.004, ki: 0.002, kd: 0.0001, min: -0.5, max: 0.5, windup_margin: 0.25}
//	yaw:   {kp: 0.006, ki: 0.002, min: -0.3, max: 0.3}
//
// Axes absent from the file keep their current gains.
func LoadGainProfile(path string, g *mixer.Gains) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read gain profile: %w", err)
	}
	var profile map[string]pid.Config
	if err := yaml.UnmarshalStrict(data, &profile); err != nil {
		return fmt.Errorf("parse gain profile %s: %w", path, err)
	}
	for axis, pc := range profile {
		dst, err := gainsFor(g, axis)
		if err != nil {
			return fmt.Errorf("gain profile %s: %w", path, err)
		}
		*dst = pc
	}
	return nil
}

func gainsFor(g *mixer.Gains, axis string) (*pid.Config, error) {
	switch strings.ToLower(axis) {
	case "roll":
		return &g.Roll, nil
	case "pitch":
		return &g.Pitch, nil
	case "yaw":
		return &g.Yaw, nil
	case "alt", "altitude":
		return &g.Altitude, nil
	}
	return nil, fmt.Errorf("unknown axis %q", axis)
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	if strings.HasPrefix(key, "PID_") && key != "PID_PROFILE" {
		return c.setGain(key, value)
	}

	var err error
	switch key {
	// Loop
	case "LOOP_PERIOD_MS":
		c.LoopPeriodMS, err = intIn(key, value, 1, 100)
	case "TELEMETRY_INTERVAL_MS":
		c.TelemetryIntervalMS, err = intIn(key, value, 0, 60000)
	case "LINK_TIMEOUT_MS":
		c.LinkTimeoutMS, err = intIn(key, value, 1, 60000)
	case "SENSOR_FAULT_TICKS":
		c.SensorFaultTicks, err = intIn(key, value, 0, 10000)
	case "BARO_EVERY":
		c.BaroEvery, err = intIn(key, value, 0, 1000)

	// Estimator
	case "GYRO_WEIGHT":
		c.GyroWeight, err = floatIn(key, value, 0, 1)
	case "GYRO_LIMIT_DPS":
		c.GyroLimitDPS, err = floatIn(key, value, 1, 10000)
	case "ACCEL_MIN_G":
		c.AccelMinG, err = floatIn(key, value, 0, 16)
	case "ACCEL_MAX_G":
		c.AccelMaxG, err = floatIn(key, value, 0, 16)

	// Pilot input
	case "MAX_RATE_ROLL":
		c.MaxRateRoll, err = floatIn(key, value, 1, 2000)
	case "MAX_RATE_PITCH":
		c.MaxRatePitch, err = floatIn(key, value, 1, 2000)
	case "MAX_RATE_YAW":
		c.MaxRateYaw, err = floatIn(key, value, 1, 2000)
	case "STICK_DEADBAND":
		c.StickDeadband, err = floatIn(key, value, 0, 0.9)

	// Mixer
	case "PID_PROFILE":
		c.PIDProfile = value
	case "FRAME_LAYOUT":
		if _, lerr := mixer.LayoutByName(value); lerr != nil {
			return lerr
		}
		c.FrameLayout = value
	case "DUTY_MAX":
		c.DutyMax, err = floatIn(key, value, 0.01, 1)
	case "HOVER_THROTTLE":
		c.HoverThrottle, err = floatIn(key, value, 0, 1)
	case "MAX_CLIMB_RATE":
		c.MaxClimbRate, err = floatIn(key, value, 0, 20)

	case "NUMERIC_MODE":
		c.NumericMode = value
	case "NUMERIC_FRAC_BITS":
		c.NumericFracBits, err = intIn(key, value, 1, 24)

	// Sensors
	case "SENSOR_SOURCE":
		c.SensorSource = value
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		var v int
		v, err = intIn(key, value, 0, 3)
		c.IMUAccelRange = byte(v)
	case "IMU_GYRO_RANGE":
		var v int
		v, err = intIn(key, value, 0, 3)
		c.IMUGyroRange = byte(v)
	case "IMU_SELF_TEST":
		c.IMUSelfTest, err = strconv.ParseBool(value)
	case "IMU_CALIBRATION_FILE":
		c.IMUCalibrationFile = value
	case "BARO_SPI_DEVICE":
		c.BaroSPIDevice = value
	case "BARO_REFERENCE_PA":
		c.BaroReferencePa, err = floatIn(key, value, 0, 120000)

	// Motors
	case "MOTOR_OUTPUT":
		c.MotorOutput = value
	case "MOTOR_I2C_BUS":
		c.MotorI2CBus = value
	case "MOTOR_I2C_ADDR":
		c.MotorI2CAddr, err = addr(key, value)
	case "MOTOR_CHANNELS":
		c.MotorChannels, err = channels(value)
	case "MOTOR_PWM_FREQ_HZ":
		c.MotorPWMFreqHz, err = floatIn(key, value, 24, 1526)
	case "MOTOR_PULSE_MIN_US":
		c.MotorPulseMinUS, err = floatIn(key, value, 1, 40000)
	case "MOTOR_PULSE_MAX_US":
		c.MotorPulseMaxUS, err = floatIn(key, value, 1, 40000)
	case "MOTOR_ESC_CALIBRATE":
		c.MotorESCCalibrate, err = strconv.ParseBool(value)

	// Receiver
	case "RECEIVER_SOURCE":
		c.ReceiverSource = value
	case "RECEIVER_SERIAL_PORT":
		c.ReceiverSerialPort = value
	case "RECEIVER_BAUD_RATE":
		var v int
		v, err = intIn(key, value, 1200, 4000000)
		c.ReceiverBaudRate = uint(v)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_PILOT":
		c.TopicPilot = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value

	// Telemetry serial
	case "TELEMETRY_SERIAL_PORT":
		c.TelemetrySerialPort = value
	case "TELEMETRY_BAUD_RATE":
		var v int
		v, err = intIn(key, value, 1200, 4000000)
		c.TelemetryBaudRate = uint(v)
	case "TELEMETRY_ENCODING":
		c.TelemetryEncoding = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = intIn(key, value, 0, 65535)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		c.DisplayI2CAddr, err = addr(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// setGain handles PID_<AXIS>_<TERM> keys, e.g. PID_ROLL_KP.
func (c *Config) setGain(key, value string) error {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return fmt.Errorf("unknown config key: %q", key)
	}
	dst, err := gainsFor(&c.Gains, parts[1])
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	switch parts[2] {
	case "KP":
		dst.Kp = v
	case "KI":
		dst.Ki = v
	case "KD":
		dst.Kd = v
	case "MIN":
		dst.Min = v
	case "MAX":
		dst.Max = v
	case "MARGIN":
		dst.WindupMargin = v
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return nil
}

func intIn(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func floatIn(key, value string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if !(v >= lo && v <= hi) {
		return 0, fmt.Errorf("%s must be %g-%g, got %g", key, lo, hi, v)
	}
	return v, nil
}

func addr(key, value string) (uint16, error) {
	a, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if a > 0x7F {
		return 0, fmt.Errorf("%s must be a 7-bit address, got 0x%X", key, a)
	}
	return uint16(a), nil
}

func channels(value string) ([4]int, error) {
	var out [4]int
	fields := strings.Split(value, ",")
	if len(fields) != 4 {
		return out, fmt.Errorf("MOTOR_CHANNELS needs 4 comma-separated channels, got %q", value)
	}
	for i, f := range fields {
		ch, err := intIn("MOTOR_CHANNELS", strings.TrimSpace(f), 0, 15)
		if err != nil {
			return out, err
		}
		out[i] = ch
	}
	return out, nil
}

// validate checks cross-field constraints and the enumerated values.
func (c *Config) validate() error {
	if c.AccelMinG >= c.AccelMaxG {
		return fmt.Errorf("ACCEL_MIN_G %g must be below ACCEL_MAX_G %g", c.AccelMinG, c.AccelMaxG)
	}
	if c.MotorPulseMinUS >= c.MotorPulseMaxUS {
		return fmt.Errorf("MOTOR_PULSE_MIN_US %g must be below MOTOR_PULSE_MAX_US %g", c.MotorPulseMinUS, c.MotorPulseMaxUS)
	}
	if c.LinkTimeoutMS <= c.LoopPeriodMS {
		return fmt.Errorf("LINK_TIMEOUT_MS %d must exceed LOOP_PERIOD_MS %d", c.LinkTimeoutMS, c.LoopPeriodMS)
	}
	for name, g := range map[string]pid.Config{"roll": c.Gains.Roll, "pitch": c.Gains.Pitch, "yaw": c.Gains.Yaw, "altitude": c.Gains.Altitude} {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("%s gains: %w", name, err)
		}
	}
	if _, err := mixer.LayoutByName(c.FrameLayout); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}

	switch c.SensorSource {
	case "mpu9250":
		if c.IMUSPIDevice == "" || c.IMUCSPin == "" {
			return fmt.Errorf("IMU_SPI_DEVICE and IMU_CS_PIN are required for SENSOR_SOURCE=mpu9250")
		}
	case "sim":
	default:
		return fmt.Errorf("SENSOR_SOURCE must be mpu9250 or sim, got %q", c.SensorSource)
	}
	switch c.MotorOutput {
	case "pca9685":
		if c.MotorI2CBus == "" {
			return fmt.Errorf("MOTOR_I2C_BUS is required for MOTOR_OUTPUT=pca9685")
		}
	case "sim":
	default:
		return fmt.Errorf("MOTOR_OUTPUT must be pca9685 or sim, got %q", c.MotorOutput)
	}
	switch c.ReceiverSource {
	case "mqtt":
		if c.MQTTBroker == "" || c.TopicPilot == "" {
			return fmt.Errorf("MQTT_BROKER and TOPIC_PILOT are required for RECEIVER_SOURCE=mqtt")
		}
	case "serial":
		if c.ReceiverSerialPort == "" {
			return fmt.Errorf("RECEIVER_SERIAL_PORT is required for RECEIVER_SOURCE=serial")
		}
	case "sim":
	default:
		return fmt.Errorf("RECEIVER_SOURCE must be mqtt, serial or sim, got %q", c.ReceiverSource)
	}
	switch c.TelemetryEncoding {
	case "sentence", "frame":
	default:
		return fmt.Errorf("TELEMETRY_ENCODING must be sentence or frame, got %q", c.TelemetryEncoding)
	}
	return nil
}

// InitGlobal loads the process-wide configuration once. Only cmd/ mains use
// the global; everything below receives its configuration explicitly.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
