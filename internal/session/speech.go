package session

import "github.com/pkg/errors"

// SpeechCapture is an optional dictation source. Start delivers transcripts to
// onResult until Stop is called or the platform ends capture on its own.
type SpeechCapture interface {
	Start(onResult func(transcript string)) error
	Stop() error
}

// StartListening begins dictation into the draft.
func (s *Session) StartListening() error {
	if s.speech == nil {
		return ErrSpeechUnavailable
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = true
	s.mu.Unlock()

	if err := s.speech.Start(s.onTranscript); err != nil {
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		return errors.Wrap(err, "start speech capture")
	}
	s.notify()
	return nil
}

// StopListening ends dictation. The draft keeps the last transcript.
func (s *Session) StopListening() error {
	if s.speech == nil {
		return ErrSpeechUnavailable
	}
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false
	s.mu.Unlock()
	s.notify()
	return errors.Wrap(s.speech.Stop(), "stop speech capture")
}

func (s *Session) onTranscript(transcript string) {
	s.mu.Lock()
	if s.closed || !s.listening {
		s.mu.Unlock()
		return
	}
	s.draft = transcript
	s.listening = false
	s.mu.Unlock()
	s.notify()
}
