package voicesession

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultSampleRate   = 16000
	DefaultFrameSize    = 1024
	DefaultRestartDelay = 5 * time.Second
)

// Voice is the fixed prosody used for every spoken response.
type Voice struct {
	Locale string  // e.g. "en-GB"
	Rate   float64 // engine-relative speaking rate, 0.5 is the engine default
	Pitch  float64 // pitch multiplier, 1.0 is neutral
	Volume float64 // 0..1
}

// Labels are the control captions published with every UI state change.
type Labels struct {
	Start         string
	Stop          string
	Stopping      string
	Listening     string // prompt shown when a pipeline starts
	Denied        string
	Restricted    string
	NotDetermined string
	Unavailable   string
}

// Config holds controller configuration. Use DefaultConfig and override fields;
// New rejects zero or out-of-range values instead of filling them in.
type Config struct {
	Locale      string // recognition locale, e.g. "en-US"
	TriggerWord string // compared case-sensitively with the trailing segment
	Response    string // spoken when TriggerWord is recognized
	Voice       Voice

	// RestartDelay is the grace period after a call ends before capture resumes,
	// giving telephony time to release the audio route.
	RestartDelay time.Duration

	Session AudioSession
	Labels  Labels

	Logger *log.Logger // nil uses a stderr logger
}

// DefaultConfig returns the configuration of the reference application.
func DefaultConfig() Config {
	return Config{
		Locale:      "en-US",
		TriggerWord: "Marco",
		Response:    "Marco polo",
		Voice: Voice{
			Locale: "en-GB",
			Rate:   0.5,
			Pitch:  1,
			Volume: 1,
		},
		RestartDelay: DefaultRestartDelay,
		Session: AudioSession{
			Category:   "playAndRecord",
			Mode:       "measurement",
			SampleRate: DefaultSampleRate,
			Channels:   1,
			FrameSize:  DefaultFrameSize,
		},
		Labels: Labels{
			Start:         "Start Recording",
			Stop:          "Stop Recording",
			Stopping:      "Stopping",
			Listening:     "(Go ahead, I'm listening)",
			Denied:        "User denied access to speech recognition",
			Restricted:    "Speech recognition restricted on this device",
			NotDetermined: "Speech recognition not yet authorized",
			Unavailable:   "Recognition not available",
		},
	}
}

// validateConfig checks Config and returns an error on invalid or missing values.
func validateConfig(cfg Config) error {
	if cfg.Locale == "" {
		return errors.New("config: Locale is required")
	}
	if cfg.TriggerWord == "" {
		return errors.New("config: TriggerWord is required")
	}
	if cfg.Response == "" {
		return errors.New("config: Response is required")
	}
	if cfg.Voice.Locale == "" {
		return errors.New("config: Voice.Locale is required")
	}
	if cfg.Voice.Rate <= 0 {
		return errors.New("config: Voice.Rate must be > 0")
	}
	if cfg.Voice.Pitch <= 0 {
		return errors.New("config: Voice.Pitch must be > 0")
	}
	if cfg.Voice.Volume < 0 || cfg.Voice.Volume > 1 {
		return errors.New("config: Voice.Volume must be in [0, 1]")
	}
	if cfg.RestartDelay <= 0 {
		return errors.New("config: RestartDelay must be > 0")
	}
	if cfg.Session.SampleRate <= 0 {
		return errors.New("config: Session.SampleRate must be > 0")
	}
	if cfg.Session.Channels < 1 || cfg.Session.Channels > 2 {
		return errors.New("config: Session.Channels must be 1 or 2")
	}
	if cfg.Session.FrameSize <= 0 {
		return errors.New("config: Session.FrameSize must be > 0")
	}
	return nil
}
