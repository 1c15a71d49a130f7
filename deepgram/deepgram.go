// Package deepgram implements voicesession.Recognizer on Deepgram's live
// streaming transcription API.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	voicesession "github.com/cortexswarm/voice-session-go"
)

const (
	DefaultURL   = "wss://api.deepgram.com/v1/listen"
	DefaultModel = "nova-2"
)

// Recognizer opens one websocket per recognition stream.
type Recognizer struct {
	APIKey string
	URL    string // DefaultURL when empty
	Model  string // DefaultModel when empty

	// Punctuate asks the service to punctuate transcripts. Punctuation becomes
	// part of the trailing segment, so "Marco" would arrive as "Marco.".
	Punctuate bool

	// EndOnSpeechFinal makes the stream terminal at the first endpoint the
	// service detects instead of when the audio is closed.
	EndOnSpeechFinal bool

	Dialer *websocket.Dialer // websocket.DefaultDialer when nil
	Logger *log.Logger
}

// New returns a Recognizer with default endpoint and model.
func New(apiKey string, logger *log.Logger) *Recognizer {
	return &Recognizer{APIKey: apiKey, Logger: logger}
}

// RequestAuthorization reports whether the recognizer holds credentials.
// Rejected credentials surface when a stream is opened.
func (r *Recognizer) RequestAuthorization(context.Context) (voicesession.AuthorizationStatus, error) {
	if r.APIKey == "" {
		return voicesession.AuthDenied, nil
	}
	return voicesession.AuthAuthorized, nil
}

// OpenStream dials the live transcription endpoint for raw 16-bit PCM in the
// session's format. ctx bounds the handshake only.
func (r *Recognizer) OpenStream(ctx context.Context, locale string, session voicesession.AudioSession) (voicesession.RecognitionStream, error) {
	endpoint, err := r.endpoint(locale, session)
	if err != nil {
		return nil, err
	}
	dialer := r.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+r.APIKey)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: deepgram: %s", voicesession.ErrPermissionDenied, resp.Status)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	logger := r.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("deepgram")
	}
	s := newStream(conn, r.EndOnSpeechFinal, logger)
	logger.Debug("stream open", "locale", locale, "rate", session.SampleRate)
	return s, nil
}

func (r *Recognizer) endpoint(locale string, session voicesession.AudioSession) (string, error) {
	base := r.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("deepgram: url: %w", err)
	}
	model := r.Model
	if model == "" {
		model = DefaultModel
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(session.SampleRate))
	q.Set("channels", strconv.Itoa(session.Channels))
	q.Set("language", locale)
	q.Set("model", model)
	q.Set("interim_results", "true")
	q.Set("punctuate", strconv.FormatBool(r.Punctuate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
