package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Sender kinds.
const (
	SenderHTTP = "http"
	SenderAMQP = "amqp"
)

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Profile is the per-profile profile.toml.
type Profile struct {
	UserID         string   `toml:"user_id"`
	Token          string   `toml:"token"`
	APIBaseURL     string   `toml:"api_base_url"`
	RequestTimeout Duration `toml:"request_timeout"`
	DrainInterval  Duration `toml:"drain_interval"`
	ProbeInterval  Duration `toml:"probe_interval"`
	Sender         string   `toml:"sender"`
	AMQPURL        string   `toml:"amqp_url"`
	AMQPQueue      string   `toml:"amqp_queue"`
}

// DefaultProfile returns the settings used when profile.toml is absent.
func DefaultProfile() *Profile {
	return &Profile{
		APIBaseURL:     "http://localhost:4000/api",
		RequestTimeout: Duration{10 * time.Second},
		DrainInterval:  Duration{500 * time.Millisecond},
		ProbeInterval:  Duration{15 * time.Second},
		Sender:         SenderHTTP,
		AMQPQueue:      "sms_batches",
	}
}

// LoadProfile reads profile.toml over the defaults. A missing file is not
// an error.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if _, err := toml.DecodeFile(path, p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p, p.Validate()
}

// SaveProfile writes profile.toml with 0600 permissions.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

// ApplyEnv overlays SMSQ_* variables, first from the dotenv file at envPath
// (if it exists) and then from the process environment.
func (p *Profile) ApplyEnv(envPath string) error {
	vars := map[string]string{}
	if envPath != "" {
		file, err := godotenv.Read(envPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", envPath, err)
		}
		for k, v := range file {
			vars[k] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "SMSQ_") {
			vars[k] = v
		}
	}

	strs := map[string]*string{
		"SMSQ_USER_ID":      &p.UserID,
		"SMSQ_TOKEN":        &p.Token,
		"SMSQ_API_BASE_URL": &p.APIBaseURL,
		"SMSQ_SENDER":       &p.Sender,
		"SMSQ_AMQP_URL":     &p.AMQPURL,
		"SMSQ_AMQP_QUEUE":   &p.AMQPQueue,
	}
	for k, dst := range strs {
		if v, ok := vars[k]; ok {
			*dst = v
		}
	}

	durs := map[string]*Duration{
		"SMSQ_REQUEST_TIMEOUT": &p.RequestTimeout,
		"SMSQ_DRAIN_INTERVAL":  &p.DrainInterval,
		"SMSQ_PROBE_INTERVAL":  &p.ProbeInterval,
	}
	for k, dst := range durs {
		if v, ok := vars[k]; ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}
	return p.Validate()
}

// Validate checks the settings the daemon cannot run without.
func (p *Profile) Validate() error {
	switch p.Sender {
	case SenderHTTP:
	case SenderAMQP:
		if p.AMQPURL == "" {
			return errors.New("sender amqp requires amqp_url")
		}
	default:
		return fmt.Errorf("unknown sender %q", p.Sender)
	}
	if p.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if p.DrainInterval.Duration <= 0 || p.ProbeInterval.Duration <= 0 {
		return errors.New("intervals must be positive")
	}
	return nil
}
