package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"groundlink/internal/protocol"
)

const (
	DefaultSerialBaud    = 9600
	DefaultReadTimeoutMS = 100

	DefaultLocalNode  = "LNC"
	DefaultRemoteNode = "RQA"

	DefaultRadioAddress = 0x524F
	DefaultRadioChannel = 0x17

	DefaultRetryTimeoutMS      = 2000
	DefaultMaxRetries          = 3
	DefaultQueueLimit          = 8
	DefaultSubmitTimeoutMS     = 2000
	DefaultKeepaliveIntervalMS = 5000

	DefaultCountdownTicks    = 3
	DefaultTickIntervalMS    = 1000
	DefaultIgnitionTimeoutMS = 10000

	DefaultMinBatteryVolts    = 6.5
	DefaultFreshnessWindowMS  = 5000
	DefaultBridgeBrokerURL    = "tcp://localhost:1883"
	DefaultBridgeClientID     = "groundlink"
	DefaultBridgeTopicPrefix  = "groundlink"
	DefaultAuditDatabasePath  = "groundlink.db"
	maxRadioChannel           = 0x1F
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig describes the serial path to the radio modem and the two
// link endpoints.
type ConnectionConfig struct {
	SerialPort    string `json:"serial_port"`
	SerialBaud    int    `json:"serial_baud"`
	ReadTimeoutMS int    `json:"read_timeout_ms"`
	LocalNode     string `json:"local_node"`
	RemoteNode    string `json:"remote_node"`
	ProgramRadio  bool   `json:"program_radio"`
}

// RadioConfig selects the E32 pairing both modems must share.
type RadioConfig struct {
	Address uint16 `json:"address"`
	Channel uint8  `json:"channel"`
}

// LinkConfig tunes the reliability layer.
type LinkConfig struct {
	RetryTimeoutMS      int `json:"retry_timeout_ms"`
	MaxRetries          int `json:"max_retries"`
	QueueLimit          int `json:"queue_limit"`
	SubmitTimeoutMS     int `json:"submit_timeout_ms"`
	KeepaliveIntervalMS int `json:"keepalive_interval_ms"`
}

// SequencerConfig tunes the launch sequence timing.
type SequencerConfig struct {
	CountdownTicks    int `json:"countdown_ticks"`
	TickIntervalMS    int `json:"tick_interval_ms"`
	IgnitionTimeoutMS int `json:"ignition_timeout_ms"`
}

// TelemetryConfig sets the fire precondition thresholds.
type TelemetryConfig struct {
	MinBatteryVolts   float64 `json:"min_battery_volts"`
	FreshnessWindowMS int     `json:"freshness_window_ms"`
}

// BridgeConfig enables mirroring bus events to an MQTT broker.
type BridgeConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// AuditConfig controls the on-disk session record.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AlertsConfig toggles desktop notifications for aborts, faults and link
// loss.
type AlertsConfig struct {
	Enabled bool `json:"enabled"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Radio      RadioConfig      `json:"radio"`
	Link       LinkConfig       `json:"link"`
	Sequencer  SequencerConfig  `json:"sequencer"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Bridge     BridgeConfig     `json:"bridge"`
	Audit      AuditConfig      `json:"audit"`
	Alerts     AlertsConfig     `json:"alerts"`
	Logging    LoggingConfig    `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			SerialPort:    "",
			SerialBaud:    DefaultSerialBaud,
			ReadTimeoutMS: DefaultReadTimeoutMS,
			LocalNode:     DefaultLocalNode,
			RemoteNode:    DefaultRemoteNode,
			ProgramRadio:  false,
		},
		Radio: RadioConfig{
			Address: DefaultRadioAddress,
			Channel: DefaultRadioChannel,
		},
		Link: LinkConfig{
			RetryTimeoutMS:      DefaultRetryTimeoutMS,
			MaxRetries:          DefaultMaxRetries,
			QueueLimit:          DefaultQueueLimit,
			SubmitTimeoutMS:     DefaultSubmitTimeoutMS,
			KeepaliveIntervalMS: DefaultKeepaliveIntervalMS,
		},
		Sequencer: SequencerConfig{
			CountdownTicks:    DefaultCountdownTicks,
			TickIntervalMS:    DefaultTickIntervalMS,
			IgnitionTimeoutMS: DefaultIgnitionTimeoutMS,
		},
		Telemetry: TelemetryConfig{
			MinBatteryVolts:   DefaultMinBatteryVolts,
			FreshnessWindowMS: DefaultFreshnessWindowMS,
		},
		Bridge: BridgeConfig{
			Enabled:     false,
			BrokerURL:   DefaultBridgeBrokerURL,
			ClientID:    DefaultBridgeClientID,
			TopicPrefix: DefaultBridgeTopicPrefix,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    DefaultAuditDatabasePath,
		},
		Alerts: AlertsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.ReadTimeoutMS <= 0 {
		c.Connection.ReadTimeoutMS = DefaultReadTimeoutMS
	}
	if strings.TrimSpace(c.Connection.LocalNode) == "" {
		c.Connection.LocalNode = DefaultLocalNode
	}
	if strings.TrimSpace(c.Connection.RemoteNode) == "" {
		c.Connection.RemoteNode = DefaultRemoteNode
	}
	if c.Radio.Address == 0 {
		c.Radio.Address = DefaultRadioAddress
	}
	if c.Link.RetryTimeoutMS <= 0 {
		c.Link.RetryTimeoutMS = DefaultRetryTimeoutMS
	}
	if c.Link.MaxRetries <= 0 {
		c.Link.MaxRetries = DefaultMaxRetries
	}
	if c.Link.QueueLimit <= 0 {
		c.Link.QueueLimit = DefaultQueueLimit
	}
	if c.Link.SubmitTimeoutMS <= 0 {
		c.Link.SubmitTimeoutMS = DefaultSubmitTimeoutMS
	}
	if c.Sequencer.CountdownTicks <= 0 {
		c.Sequencer.CountdownTicks = DefaultCountdownTicks
	}
	if c.Sequencer.TickIntervalMS <= 0 {
		c.Sequencer.TickIntervalMS = DefaultTickIntervalMS
	}
	if c.Sequencer.IgnitionTimeoutMS <= 0 {
		c.Sequencer.IgnitionTimeoutMS = DefaultIgnitionTimeoutMS
	}
	if c.Telemetry.MinBatteryVolts <= 0 {
		c.Telemetry.MinBatteryVolts = DefaultMinBatteryVolts
	}
	if c.Telemetry.FreshnessWindowMS <= 0 {
		c.Telemetry.FreshnessWindowMS = DefaultFreshnessWindowMS
	}
	if strings.TrimSpace(c.Bridge.BrokerURL) == "" {
		c.Bridge.BrokerURL = DefaultBridgeBrokerURL
	}
	if strings.TrimSpace(c.Bridge.ClientID) == "" {
		c.Bridge.ClientID = DefaultBridgeClientID
	}
	if strings.TrimSpace(c.Bridge.TopicPrefix) == "" {
		c.Bridge.TopicPrefix = DefaultBridgeTopicPrefix
	}
	if strings.TrimSpace(c.Audit.Path) == "" {
		c.Audit.Path = DefaultAuditDatabasePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Connection.SerialPort) == "" {
		return errors.New("serial port is required")
	}
	if c.Connection.SerialBaud <= 0 {
		return errors.New("serial baud must be positive")
	}

	local, err := protocol.ParseNode(c.Connection.LocalNode)
	if err != nil {
		return fmt.Errorf("local node: %w", err)
	}
	if local.Kind != protocol.NodeLaunchControl {
		return fmt.Errorf("local node must be %s", DefaultLocalNode)
	}
	remote, err := protocol.ParseNode(c.Connection.RemoteNode)
	if err != nil {
		return fmt.Errorf("remote node: %w", err)
	}
	if remote.Kind == protocol.NodeLaunchControl {
		return errors.New("remote node must be a stand controller")
	}

	if c.Radio.Channel > maxRadioChannel {
		return fmt.Errorf("radio channel 0x%02X above 0x%02X", c.Radio.Channel, maxRadioChannel)
	}
	if c.Bridge.Enabled && strings.TrimSpace(c.Bridge.BrokerURL) == "" {
		return errors.New("bridge broker url is required")
	}
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		return errors.New("audit database path is required")
	}

	return nil
}

// Nodes resolves the configured endpoint addresses. Call Validate first.
func (c AppConfig) Nodes() (local, remote protocol.Node, err error) {
	local, err = protocol.ParseNode(c.Connection.LocalNode)
	if err != nil {
		return protocol.Node{}, protocol.Node{}, fmt.Errorf("local node: %w", err)
	}
	remote, err = protocol.ParseNode(c.Connection.RemoteNode)
	if err != nil {
		return protocol.Node{}, protocol.Node{}, fmt.Errorf("remote node: %w", err)
	}

	return local, remote, nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
