package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment holds deployment settings read from the process environment
// and an optional .env file. Machine tuning lives in the YAML config.
type Environment struct {
	ConfigPath string
	Sim        bool
	Console    bool

	LogFile  string
	LogLevel string

	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string
	TopicPrefix  string

	HTTPAddr string

	DrumPort    string
	DrumMode    string
	GrinderPort string
	GrinderMode string
	VESCBaud    int

	PWMChip       string
	PumpChannel   int
	HeaterChannel int
	ServoChannels map[string]int
	PWMPeriod     time.Duration
	ServoPeriod   time.Duration
	FlowGPIO      int
}

// LoadEnv reads .env (if present) and the environment. A missing .env is not
// an error; malformed values are.
func LoadEnv() (*Environment, error) {
	_ = godotenv.Load()

	e := &Environment{
		ConfigPath:   os.Getenv("BREWCTL_CONFIG"),
		LogFile:      os.Getenv("LOG_FILE"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
		MQTTClientID: getenv("MQTT_CLIENT_ID", "brewctl"),
		TopicPrefix:  getenv("MQTT_TOPIC_PREFIX", "brewctl"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		DrumPort:     os.Getenv("DRUM_PORT"),
		DrumMode:     getenv("DRUM_MODE", "rpm"),
		GrinderPort:  os.Getenv("GRINDER_PORT"),
		GrinderMode:  getenv("GRINDER_MODE", "duty"),
		PWMChip:      getenv("PWM_CHIP", "/sys/class/pwm/pwmchip0"),
	}

	var err error
	if e.Sim, err = getbool("BREWCTL_SIM", false); err != nil {
		return nil, err
	}
	if e.Console, err = getbool("BREWCTL_CONSOLE", false); err != nil {
		return nil, err
	}
	if e.VESCBaud, err = getint("VESC_BAUD", 115200); err != nil {
		return nil, err
	}
	if e.PumpChannel, err = getint("PUMP_PWM_CHANNEL", 0); err != nil {
		return nil, err
	}
	if e.HeaterChannel, err = getint("HEATER_PWM_CHANNEL", 1); err != nil {
		return nil, err
	}
	if e.FlowGPIO, err = getint("FLOW_SENSOR_GPIO", 17); err != nil {
		return nil, err
	}
	if e.PWMPeriod, err = getduration("PWM_PERIOD", time.Millisecond); err != nil {
		return nil, err
	}
	if e.ServoPeriod, err = getduration("SERVO_PERIOD", 20*time.Millisecond); err != nil {
		return nil, err
	}
	if e.ServoChannels, err = parseChannelMap(getenv("SERVO_PWM_CHANNELS", "A:2,B:3,C:4,D:5")); err != nil {
		return nil, err
	}
	return e, nil
}

// Topic joins the configured prefix and a suffix.
func (e *Environment) Topic(suffix string) string {
	return e.TopicPrefix + "/" + suffix
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getint(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// parseChannelMap parses "A:2,B:3" into {"A": 2, "B": 3}.
func parseChannelMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, ch, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("servo channel %q: expected <id>:<channel>", part)
		}
		n, err := strconv.Atoi(ch)
		if err != nil {
			return nil, fmt.Errorf("servo channel %q: %w", part, err)
		}
		out[strings.ToUpper(id)] = n
	}
	return out, nil
}
