package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/roomlink/internal/room"
)

// KindEnvironment reads a temperature and humidity sensor.
const KindEnvironment = "environment"

const (
	defaultEnvInterval   = 20 * time.Second
	defaultRollingLen    = 5
	defaultIIODevice     = "/sys/bus/iio/devices/iio:device0"
	spikeClamp           = 2.0
	spikeClampAfter      = 3
	faultAwaitingRead    = "awaiting first reading"
	faultZeroReading     = "sensor returned 0"
	unitFahrenheit       = "°F"
	unitCelsius          = "°C"
	unitRelativeHumidity = "%"
)

// Sensor sources.
const (
	SourceSim = "sim"
	SourceIIO = "iio"
)

var errNoReading = errors.New("driver: sensor returned no reading")

// Reader returns one temperature (°C) and relative humidity (%) sample.
type Reader interface {
	Read() (celsius, humidity float64, err error)
}

// EnvironmentParams configures an environment sensor.
type EnvironmentParams struct {
	Source               string        `mapstructure:"source"`
	Device               string        `mapstructure:"device"`
	Interval             time.Duration `mapstructure:"interval"`
	Fahrenheit           bool          `mapstructure:"fahrenheit"`
	RollingAverageLength int           `mapstructure:"rolling_average_length"`

	// Sim readings, used by the sim source.
	SimTemperature float64 `mapstructure:"sim_temperature"`
	SimHumidity    float64 `mapstructure:"sim_humidity"`
}

// Environment publishes one object per reading: <name>_temperature and
// <name>_humidity, each with current_value and unit.
type Environment struct {
	name        string
	params      EnvironmentParams
	reader      Reader
	logger      Logger
	temperature *sensorValue
	humidity    *sensorValue
}

// NewEnvironment builds the sensor and its two value objects. Both start
// faulted until the first successful read.
func NewEnvironment(env Env, name string, params map[string]any) (Driver, error) {
	p := EnvironmentParams{
		Source:               SourceSim,
		Device:               defaultIIODevice,
		Interval:             defaultEnvInterval,
		Fahrenheit:           true,
		RollingAverageLength: defaultRollingLen,
		SimTemperature:       21,
		SimHumidity:          45,
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Interval <= 0 {
		p.Interval = defaultEnvInterval
	}

	var reader Reader
	switch p.Source {
	case SourceSim:
		reader = NewSimReader(p.SimTemperature, p.SimHumidity)
	case SourceIIO:
		reader = IIOReader{Dir: p.Device}
	default:
		return nil, fmt.Errorf("%w: unknown sensor source %q", ErrInvalidConfig, p.Source)
	}
	return newEnvironment(env, name, p, reader), nil
}

func newEnvironment(env Env, name string, p EnvironmentParams, reader Reader) *Environment {
	tempUnit := unitCelsius
	if p.Fahrenheit {
		tempUnit = unitFahrenheit
	}
	return &Environment{
		name:        name,
		params:      p,
		reader:      reader,
		logger:      env.logger(),
		temperature: newSensorValue(name+"_temperature", tempUnit, p.RollingAverageLength),
		humidity:    newSensorValue(name+"_humidity", unitRelativeHumidity, p.RollingAverageLength),
	}
}

func (e *Environment) Devices() []room.Device {
	return []room.Device{e.temperature, e.humidity}
}

// Run reads the sensor immediately and then every interval.
func (e *Environment) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.params.Interval)
	defer ticker.Stop()

	for {
		e.sample()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Environment) sample() {
	c, h, err := e.reader.Read()
	switch {
	case err != nil:
		e.logger.Warn("sensor read failed", "sensor", e.name, "error", err)
		e.fault(err.Error())
	case c == 0 && h == 0:
		e.logger.Warn("sensor returned 0", "sensor", e.name)
		e.fault(faultZeroReading)
	default:
		temp := c
		if e.params.Fahrenheit {
			temp = round2(c*9/5 + 32)
		}
		e.temperature.add(temp)
		e.humidity.add(round2(h))
	}
}

func (e *Environment) fault(reason string) {
	e.temperature.SetFault(reason)
	e.humidity.SetFault(reason)
}

func (e *Environment) Close() error { return nil }

// sensorValue is one published reading with its rolling window.
type sensorValue struct {
	*room.Object
	window  int
	samples []float64
	current float64
}

func newSensorValue(name, unit string, window int) *sensorValue {
	v := &sensorValue{Object: room.NewObject(name, KindEnvironment), window: window}
	_ = v.SetValue("unit", unit)
	v.SetHealth(room.Health{Online: true, Fault: true, Reason: faultAwaitingRead})
	return v
}

// add folds a sample into the window. Once three samples are held, a
// sample is clamped to within spikeClamp of the current value.
func (v *sensorValue) add(sample float64) {
	if len(v.samples) >= spikeClampAfter {
		sample = math.Max(v.current-spikeClamp, math.Min(v.current+spikeClamp, sample))
	}
	if v.window > 1 {
		v.samples = append(v.samples, sample)
		if len(v.samples) > v.window {
			v.samples = v.samples[1:]
		}
		sum := 0.0
		for _, s := range v.samples {
			sum += s
		}
		v.current = sum / float64(len(v.samples))
	} else {
		v.samples = append(v.samples[:0], sample)
		v.current = sample
	}
	_ = v.SetValue("current_value", round2(v.current))
	v.ClearFault()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// SimReader returns fixed readings that tests and bench setups can change.
type SimReader struct {
	mu       sync.Mutex
	celsius  float64
	humidity float64
	err      error
}

// NewSimReader returns a reader producing c and h.
func NewSimReader(c, h float64) *SimReader {
	return &SimReader{celsius: c, humidity: h}
}

// Set changes the next readings. A non-nil err fails reads instead.
func (s *SimReader) Set(c, h float64, err error) {
	s.mu.Lock()
	s.celsius, s.humidity, s.err = c, h, err
	s.mu.Unlock()
}

func (s *SimReader) Read() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.celsius, s.humidity, s.err
}

// IIOReader reads a kernel industrial I/O humidity sensor such as the
// DHT22 behind the dht11 overlay. Temperature is in milli-degrees and
// humidity in milli-percent.
type IIOReader struct {
	Dir string
}

func (r IIOReader) Read() (float64, float64, error) {
	t, err := readMilli(filepath.Join(r.Dir, "in_temp_input"))
	if err != nil {
		return 0, 0, err
	}
	h, err := readMilli(filepath.Join(r.Dir, "in_humidityrelative_input"))
	if err != nil {
		return 0, 0, err
	}
	return t, h, nil
}

func readMilli(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errNoReading, err)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errNoReading, filepath.Base(path), err)
	}
	return n / 1000, nil
}
