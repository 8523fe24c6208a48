// Package recorder captures an audio clip from an exclusively-owned
// device. A session ends on manual stop, on the hard time limit, or when
// the stream itself ends; the device is released on every one of those
// paths, exactly once.
package recorder

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// DefaultLimit is the recording ceiling applied when none is given.
const DefaultLimit = 30 * time.Second

// Device is an open audio source. Close must release the underlying
// capture hardware and unblock any pending Read.
type Device interface {
	io.Reader
	Close() error
}

// StopReason says how a session ended.
type StopReason string

const (
	StopManual  StopReason = "manual"
	StopTimeout StopReason = "timeout"
	StopStream  StopReason = "stream-ended"
)

// Session is one in-progress or finished recording.
type Session struct {
	device Device
	timer  *time.Timer

	mu     sync.Mutex
	buf    bytes.Buffer
	reason StopReason
	err    error

	release sync.Once
	done    chan struct{}
}

// Start begins capturing from the device. limit <= 0 applies DefaultLimit.
func Start(device Device, limit time.Duration) *Session {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Session{
		device: device,
		done:   make(chan struct{}),
	}
	s.timer = time.AfterFunc(limit, func() {
		s.stop(StopTimeout)
	})
	go s.capture()
	return s
}

// Stop ends the recording by hand and returns the captured clip. Calling
// Stop after the timeout already fired just returns the finished clip.
func (s *Session) Stop() ([]byte, error) {
	s.stop(StopManual)
	return s.Wait()
}

// Wait blocks until the session ends (by any path) and returns the clip.
func (s *Session) Wait() ([]byte, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(nil), s.buf.Bytes()...), nil
}

// Reason reports how a finished session ended; "" while still recording.
func (s *Session) Reason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// stop releases the device once. Closing it unblocks the capture loop,
// which then closes done.
func (s *Session) stop(reason StopReason) {
	s.release.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.timer.Stop()
		_ = s.device.Close()
	})
}

func (s *Session) capture() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.device.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			s.mu.Unlock()
		}
		if err != nil {
			// EOF or the Close() from stop(); either way the stream is over.
			s.stop(StopStream)
			if err != io.EOF {
				s.mu.Lock()
				if s.buf.Len() == 0 && s.reason == StopStream {
					s.err = err
				}
				s.mu.Unlock()
			}
			close(s.done)
			return
		}
	}
}
