// Package config loads the remote and hub configuration through viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/now-remote/internal/gpio"
	"github.com/sweeney/now-remote/internal/handler"
	"github.com/sweeney/now-remote/internal/interaction"
	"github.com/sweeney/now-remote/internal/journal"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/link/udp"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/mqtt"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/remote"
	"github.com/sweeney/now-remote/internal/rtc"
	"github.com/sweeney/now-remote/internal/statemachine"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// ButtonConfig holds the gesture detector timings.
type ButtonConfig struct {
	Silence   time.Duration `mapstructure:"silence"`
	Hold      time.Duration `mapstructure:"hold"`
	HoldCall  time.Duration `mapstructure:"hold_call"`
	PressWait time.Duration `mapstructure:"press_wait"`
	Reset     time.Duration `mapstructure:"reset"`
}

// MachineConfig holds the state machine timings.
type MachineConfig struct {
	ButtonWait        time.Duration `mapstructure:"button_wait"`
	ButtonRepeat      time.Duration `mapstructure:"button_repeat"`
	ErrorsBeforeReset uint8         `mapstructure:"errors_before_reset"`
}

// SendConfig holds the button report send policy.
type SendConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	OuterRetries int           `mapstructure:"outer_retries"`
}

// DiscoveryConfig holds the hub discovery timings.
type DiscoveryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Window  time.Duration `mapstructure:"window"`
}

// RemoteConfig holds the remote's hardware and persistence settings.
type RemoteConfig struct {
	Chip      string `mapstructure:"chip"`
	Pins      []int  `mapstructure:"pins"`
	LEDPin    int    `mapstructure:"led_pin"`
	ActiveLow bool   `mapstructure:"active_low"`
	RTCPath   string `mapstructure:"rtc_path"`
	MAC       string `mapstructure:"mac"`
	Cycles    int    `mapstructure:"cycles"`
}

// UDPConfig holds the UDP multicast radio settings.
type UDPConfig struct {
	Group      string        `mapstructure:"group"`
	BasePort   int           `mapstructure:"base_port"`
	Interface  string        `mapstructure:"interface"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

// HubConfig holds the hub responder settings.
type HubConfig struct {
	MAC         string `mapstructure:"mac"`
	Channel     uint8  `mapstructure:"channel"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Journal     string `mapstructure:"journal"`
	HTTPAddr    string `mapstructure:"http_addr"`
}

// Config holds all runtime configuration.
// Values are populated from now-remote.yaml, NOW_REMOTE_* env vars and CLI flags.
type Config struct {
	Verbose       bool            `mapstructure:"verbose"`
	ReassemblyTTL time.Duration   `mapstructure:"reassembly_ttl"`
	Remote        RemoteConfig    `mapstructure:"remote"`
	Button        ButtonConfig    `mapstructure:"button"`
	Machine       MachineConfig   `mapstructure:"machine"`
	Send          SendConfig      `mapstructure:"send"`
	Discovery     DiscoveryConfig `mapstructure:"discovery"`
	UDP           UDPConfig       `mapstructure:"udp"`
	Hub           HubConfig       `mapstructure:"hub"`
}

// SetDefaults registers the built-in defaults with viper.
func SetDefaults() {
	intervals := logic.DefaultIntervals()
	send := handler.DefaultSendOptions()

	viper.SetDefault("verbose", false)
	viper.SetDefault("reassembly_ttl", interaction.DefaultReassemblyTTL)

	viper.SetDefault("remote.chip", gpio.DefaultChip)
	viper.SetDefault("remote.pins", []int{17})
	viper.SetDefault("remote.led_pin", 27)
	viper.SetDefault("remote.active_low", false)
	viper.SetDefault("remote.rtc_path", rtc.DefaultPath)
	viper.SetDefault("remote.mac", "")
	viper.SetDefault("remote.cycles", 0)

	viper.SetDefault("button.silence", intervals.Silence)
	viper.SetDefault("button.hold", intervals.Hold)
	viper.SetDefault("button.hold_call", intervals.HoldCall)
	viper.SetDefault("button.press_wait", intervals.PressWait)
	viper.SetDefault("button.reset", intervals.Reset)

	viper.SetDefault("machine.button_wait", statemachine.DefaultButtonWait)
	viper.SetDefault("machine.button_repeat", statemachine.DefaultButtonRepeat)
	viper.SetDefault("machine.errors_before_reset", statemachine.DefaultErrorsBeforeReset)

	viper.SetDefault("send.timeout", send.Timeout)
	viper.SetDefault("send.retries", send.Retries)
	viper.SetDefault("send.retry_delay", send.RetryDelay)
	viper.SetDefault("send.outer_retries", 0)

	viper.SetDefault("discovery.timeout", handler.DefaultDiscoveryTimeout)
	viper.SetDefault("discovery.window", nowio.DefaultDiscoveryWindow)

	viper.SetDefault("udp.group", udp.DefaultGroup)
	viper.SetDefault("udp.base_port", udp.DefaultBasePort)
	viper.SetDefault("udp.interface", "")
	viper.SetDefault("udp.ack_timeout", udp.DefaultAckTimeout)

	viper.SetDefault("hub.mac", "")
	viper.SetDefault("hub.channel", 1)
	viper.SetDefault("hub.broker", "tcp://localhost:1883")
	viper.SetDefault("hub.topic_prefix", mqtt.DefaultTopicPrefix)
	viper.SetDefault("hub.journal", journal.DefaultPath)
	viper.SetDefault("hub.http_addr", ":8080")
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment or flags, and validates it.
func Load() (Config, error) {
	SetDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a cycle.
func (c Config) Validate() error {
	if len(c.Remote.Pins) == 0 {
		return fmt.Errorf("%w: remote.pins is empty", ErrInvalid)
	}
	seen := make(map[int]bool)
	for _, pin := range c.Remote.Pins {
		if pin < 0 || pin > 63 {
			return fmt.Errorf("%w: remote.pins: pin %d outside 0..63", ErrInvalid, pin)
		}
		if seen[pin] {
			return fmt.Errorf("%w: remote.pins: pin %d listed twice", ErrInvalid, pin)
		}
		seen[pin] = true
	}
	if c.Remote.LEDPin < -1 {
		return fmt.Errorf("%w: remote.led_pin must be -1 (none) or a line offset", ErrInvalid)
	}
	if c.Hub.Channel > link.MaxChannel {
		return fmt.Errorf("%w: hub.channel %d outside 0..%d", ErrInvalid, c.Hub.Channel, link.MaxChannel)
	}
	for _, mac := range []struct{ key, value string }{{"remote.mac", c.Remote.MAC}, {"hub.mac", c.Hub.MAC}} {
		if mac.value == "" {
			continue
		}
		if _, err := link.ParseMAC(mac.value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, mac.key, err)
		}
	}
	if c.Send.Retries < 0 || c.Send.OuterRetries < 0 {
		return fmt.Errorf("%w: send retries must not be negative", ErrInvalid)
	}
	if c.Machine.ErrorsBeforeReset == 0 {
		return fmt.Errorf("%w: machine.errors_before_reset must be at least 1", ErrInvalid)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"reassembly_ttl", c.ReassemblyTTL},
		{"button.hold", c.Button.Hold},
		{"button.hold_call", c.Button.HoldCall},
		{"button.press_wait", c.Button.PressWait},
		{"button.reset", c.Button.Reset},
		{"machine.button_wait", c.Machine.ButtonWait},
		{"machine.button_repeat", c.Machine.ButtonRepeat},
		{"send.timeout", c.Send.Timeout},
		{"discovery.timeout", c.Discovery.Timeout},
		{"discovery.window", c.Discovery.Window},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalid, d.key, d.d)
		}
	}
	if c.Button.Silence < 0 || c.Send.RetryDelay < 0 {
		return fmt.Errorf("%w: button.silence and send.retry_delay must not be negative", ErrInvalid)
	}
	return nil
}

// RemoteRuntime converts the loaded values into the remote's runtime config.
func (c Config) RemoteRuntime() remote.Config {
	rc := remote.DefaultConfig(c.Remote.Pins...)
	rc.Intervals = logic.Intervals{
		Silence:   c.Button.Silence,
		Hold:      c.Button.Hold,
		HoldCall:  c.Button.HoldCall,
		PressWait: c.Button.PressWait,
		Reset:     c.Button.Reset,
	}
	rc.Machine.ButtonWait = c.Machine.ButtonWait
	rc.Machine.ButtonRepeat = c.Machine.ButtonRepeat
	rc.Machine.ErrorsBeforeReset = c.Machine.ErrorsBeforeReset
	rc.Machine.OuterRetries = c.Send.OuterRetries
	rc.Send = handler.SendOptions{
		Timeout:    c.Send.Timeout,
		Retries:    c.Send.Retries,
		RetryDelay: c.Send.RetryDelay,
	}
	rc.DiscoveryTimeout = c.Discovery.Timeout
	rc.DiscoveryWindow = c.Discovery.Window
	rc.ReassemblyTTL = c.ReassemblyTTL
	rc.Cycles = c.Remote.Cycles
	return rc
}

// UDPOptions returns the radio driver options for a station with address mac
// (the zero MAC picks one from the interface or at random).
func (c Config) UDPOptions(mac link.MAC) udp.Options {
	return udp.Options{
		Group:      c.UDP.Group,
		BasePort:   c.UDP.BasePort,
		Interface:  c.UDP.Interface,
		MAC:        mac,
		AckTimeout: c.UDP.AckTimeout,
	}
}
