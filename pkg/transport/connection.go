package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// connection is one websocket connection of a session. Its reader and writer
// goroutines end it by calling end; the session's run loop tears it down.
type connection struct {
	id    string
	ws    *websocket.Conn
	queue *audio.FrameQueue
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writerDone chan struct{}

	once  sync.Once
	ended chan struct{}
	err   error // nil for a graceful remote close
}

func (s *Session) newConnection(id string, ws *websocket.Conn) *connection {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &connection{
		id:         id,
		ws:         ws,
		log:        s.log.With("session_id", id),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
		ended:      make(chan struct{}),
	}
	c.queue = audio.NewFrameQueue(s.cfg.SendBuffer, audio.WithDropHook(func(audio.AudioFrame) {
		s.dropped.Add(1)
		s.rec.RecordFrameDropped(ctx, "send")
	}))
	return c
}

// end records the first reason the connection stopped.
func (c *connection) end(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.ended)
	})
}

// readLoop hands every inbound message to the session's handler in arrival
// order until the connection ends.
func (s *Session) readLoop(c *connection) {
	defer c.wg.Done()

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.end(nil)
			default:
				c.end(&Error{Op: "read", Kind: ErrUnexpectedClose, Err: err})
			}
			return
		}
		s.messages.Add(1)

		if typ != websocket.MessageText {
			s.dropMalformed(c, fmt.Errorf("%w: unexpected binary message of %d bytes", ErrMalformedMessage, len(data)))
			continue
		}

		h := s.handler()
		if h == nil {
			s.rec.RecordMessage(c.ctx, false)
			continue
		}
		if err := h(data); err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				s.dropMalformed(c, err)
				continue
			}
			c.log.Warn("message handler failed", "err", err)
		}
		s.rec.RecordMessage(c.ctx, false)
	}
}

func (s *Session) dropMalformed(c *connection, err error) {
	s.malformed.Add(1)
	s.rec.RecordMessage(c.ctx, true)
	c.log.Warn("dropping malformed message", "err", err)
}

// writeLoop writes queued frames as binary messages until the queue is
// closed and drained or a write fails.
func (s *Session) writeLoop(c *connection) {
	defer c.wg.Done()
	defer close(c.writerDone)

	for {
		f, err := c.queue.Pop(c.ctx)
		if err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(c.ctx, s.cfg.WriteTimeout)
		start := time.Now()
		err = c.ws.Write(ctx, websocket.MessageBinary, f.Data)
		cancel()
		if err != nil {
			c.end(&Error{Op: "write", Kind: ErrWriteFailed, Err: err})
			return
		}

		s.framesSent.Add(1)
		s.bytesSent.Add(uint64(len(f.Data)))
		s.rec.RecordFrameSent(c.ctx, len(f.Data), time.Since(start))
	}
}
