package deepgram

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	voicesession "github.com/cortexswarm/voice-session-go"
)

const (
	audioBuffer  = 100
	eventBuffer  = 16
	closeMessage = `{"type":"CloseStream"}`
)

var errClosed = errors.New("deepgram: stream already closed")

// response is the subset of a live transcription message this package reads.
type response struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []word  `json:"words"`
}

type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
}

// Stream is one live transcription session.
type Stream struct {
	conn             *websocket.Conn
	log              *log.Logger
	endOnSpeechFinal bool

	mu      sync.Mutex
	closing bool
	audio   chan []byte

	events     chan voicesession.RecognitionEvent
	done       chan struct{}
	readerDone chan struct{}
	terminal   atomic.Bool
	writeErr   atomic.Bool
	cancelOnce sync.Once

	transcript transcript
}

func newStream(conn *websocket.Conn, endOnSpeechFinal bool, logger *log.Logger) *Stream {
	s := &Stream{
		conn:             conn,
		log:              logger,
		endOnSpeechFinal: endOnSpeechFinal,
		audio:            make(chan []byte, audioBuffer),
		events:           make(chan voicesession.RecognitionEvent, eventBuffer),
		done:             make(chan struct{}),
		readerDone:       make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

// Events implements voicesession.RecognitionStream.
func (s *Stream) Events() <-chan voicesession.RecognitionEvent { return s.events }

// Feed queues a frame for sending. Frames are dropped once the stream is
// terminal, closed or unable to send, or while the send buffer is full.
func (s *Stream) Feed(frame voicesession.Frame) {
	if s.terminal.Load() || s.writeErr.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	select {
	case s.audio <- encodeS16(frame):
	default:
		s.log.Warn("audio buffer full, dropping frame")
	}
}

// Close flushes queued audio and asks the service to finalize the transcript.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errClosed
	}
	s.closing = true
	close(s.audio)
	return nil
}

// Cancel drops the connection. No event is delivered after Cancel returns.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	<-s.readerDone
}

func (s *Stream) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Stream) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(closeMessage)); err != nil {
					s.log.Debug("send close stream", "error", err)
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.log.Error("failed to write audio data", "error", err)
				// the reader fails next and reports the error
				s.writeErr.Store(true)
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Stream) readLoop() {
	defer close(s.readerDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if s.isClosing() {
				final := s.transcript.last
				final.IsFinal = true
				s.emit(voicesession.RecognitionEvent{Update: final})
				return
			}
			s.emit(voicesession.RecognitionEvent{Err: fmt.Errorf("deepgram: read: %w", err)})
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			s.log.Warn("unreadable message", "error", err)
			continue
		}
		switch resp.Type {
		case "Results":
			if len(resp.Channel.Alternatives) == 0 {
				continue
			}
			u := s.transcript.update(resp.Channel.Alternatives[0], resp.IsFinal)
			if s.endOnSpeechFinal && resp.SpeechFinal {
				u.IsFinal = true
			}
			s.log.Debug("hear", "txt", u.Text, "final", resp.IsFinal)
			if !s.emit(voicesession.RecognitionEvent{Update: u}) || u.IsFinal {
				return
			}
		case "Error":
			msg := resp.Description
			if msg == "" {
				msg = resp.Message
			}
			s.emit(voicesession.RecognitionEvent{Err: fmt.Errorf("deepgram: %s", msg)})
			return
		default:
			s.log.Debug("event", "type", resp.Type)
		}
	}
}

// emit delivers ev unless the stream was cancelled. A terminal event marks the
// stream terminal before it is sent.
func (s *Stream) emit(ev voicesession.RecognitionEvent) bool {
	if ev.Terminal() {
		s.terminal.Store(true)
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func encodeS16(frame voicesession.Frame) []byte {
	b := make([]byte, 2*len(frame))
	for i, v := range frame {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}
