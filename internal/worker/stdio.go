package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// MaxFrameSize bounds a single frame; larger length headers are rejected.
const MaxFrameSize = 256 << 20

// WriteFrame writes [uint32 big-endian length][payload].
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame written by WriteFrame. A clean EOF before the
// header is returned as io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// Serve runs the worker over a framed stream: commands are read from r, events
// written to wr. It returns after r is exhausted (or ctx is cancelled) and every
// pending event has been written.
func (w *Worker) Serve(ctx context.Context, r io.Reader, wr io.Writer) error {
	writeErr := make(chan error, 1)
	go func() {
		var err error
		for e := range w.Events() {
			if err != nil {
				continue // keep draining so the worker never blocks
			}
			data, merr := json.Marshal(e)
			if merr != nil {
				w.logger.Error("failed to encode event", zap.Error(merr))
				continue
			}
			err = WriteFrame(wr, data)
		}
		writeErr <- err
	}()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			frame, err := ReadFrame(r)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-readErr:
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				result = fmt.Errorf("failed to read command: %w", err)
			}
			// an exhausted input lets the running scan finish
			w.Wait()
			break loop
		case frame := <-frames:
			cmd, err := DecodeCommand(frame)
			if err != nil {
				w.logger.Warn("ignoring invalid command", zap.Error(err))
				continue
			}
			if err := w.Handle(ctx, cmd); err != nil {
				w.logger.Debug("command not applied", zap.String("type", cmd.Type), zap.Error(err))
			}
		}
	}

	w.Close()
	if err := <-writeErr; err != nil && result == nil {
		result = fmt.Errorf("failed to write event: %w", err)
	}
	return result
}
