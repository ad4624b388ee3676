package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Realtime control bytes understood by GRBL-class controllers. They are
// single-byte commands executed immediately, outside the line buffer.
const (
	RealtimeStatus     byte = '?'
	RealtimeFeedHold   byte = '!'
	RealtimeCycleStart byte = '~'
	RealtimeSoftReset  byte = 0x18
	RealtimeJogCancel  byte = 0x85
)

// Channel owns a single serial connection to the controller and serializes
// command/response exchanges on it. Exactly one exchange is in flight at a
// time; realtime bytes bypass the exchange lock so an emergency stop is
// never queued behind a slow command.
type Channel struct {
	rw       io.ReadWriteCloser
	logger   *zap.Logger
	recorder *Recorder
	timeout  time.Duration

	exchangeMu sync.Mutex // held for one command/response pair
	writeMu    sync.Mutex // held for one physical write

	ackCh    chan error
	statusCh chan string

	alarmMu sync.Mutex
	alarms  []string

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewChannel wraps an open serial connection. defaultTimeout bounds every
// exchange that arrives without a context deadline.
func NewChannel(rw io.ReadWriteCloser, defaultTimeout time.Duration, recorder *Recorder, logger *zap.Logger) *Channel {
	c := &Channel{
		rw:       rw,
		logger:   logger,
		recorder: recorder,
		timeout:  defaultTimeout,
		ackCh:    make(chan error, 1),
		statusCh: make(chan string, 1),
		closeCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close shuts the channel down and closes the underlying connection.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.rw.Close()
	})
	return err
}

// Send writes one command line and blocks until the controller acknowledges
// it with "ok", rejects it with "error:N", or the deadline passes. The
// context deadline wins over the channel default when one is set.
func (c *Channel) Send(ctx context.Context, cmd string) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	c.drainAck()

	start := time.Now()
	err := c.exchange(ctx, func() error {
		return c.write([]byte(cmd + "\n"))
	}, c.ackCh)
	if c.recorder != nil {
		c.recorder.Record(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	return nil
}

// Query issues a realtime status request and returns the next raw status
// report line ("<...>"). Like Send it holds the exchange lock so the reply
// is correlated with this request.
func (c *Channel) Query(ctx context.Context) (string, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	// Drop any status report left over from a previous exchange.
	select {
	case <-c.statusCh:
	default:
	}

	start := time.Now()
	var report string
	err := c.exchangeStatus(ctx, &report)
	if c.recorder != nil {
		c.recorder.Record(time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("status query: %w", err)
	}
	return report, nil
}

// SendRealtime writes a single realtime byte without waiting for any reply
// and without taking the exchange lock. This is the priority path used for
// emergency stop, feed hold, and soft reset.
func (c *Channel) SendRealtime(b byte) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}
	return c.write([]byte{b})
}

// DrainAlarms returns the alarm messages pushed by the controller since the
// last drain and clears the buffer.
func (c *Channel) DrainAlarms() []string {
	c.alarmMu.Lock()
	defer c.alarmMu.Unlock()
	out := c.alarms
	c.alarms = nil
	return out
}

func (c *Channel) write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rw.Write(p)
	return err
}

func (c *Channel) deadline(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return c.timeout
}

func (c *Channel) exchange(ctx context.Context, send func() error, ack <-chan error) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	if err := send(); err != nil {
		return err
	}

	timer := time.NewTimer(c.deadline(ctx))
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	}
}

func (c *Channel) exchangeStatus(ctx context.Context, report *string) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	if err := c.write([]byte{RealtimeStatus}); err != nil {
		return err
	}

	timer := time.NewTimer(c.deadline(ctx))
	defer timer.Stop()

	select {
	case line := <-c.statusCh:
		*report = line
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	}
}

// drainAck discards an acknowledgement that arrived after a previous
// exchange timed out, so it cannot be attributed to the next command.
func (c *Channel) drainAck() {
	select {
	case <-c.ackCh:
	default:
	}
}

func (c *Channel) readLoop() {
	scanner := bufio.NewScanner(c.rw)
	for scanner.Scan() {
		select {
		case <-c.closeCh:
			return
		default:
		}
		c.handleLine(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-c.closeCh:
		default:
			c.logger.Error("Serial read loop terminated", zap.Error(err))
		}
	}
}

func (c *Channel) handleLine(line string) {
	switch {
	case line == "":
	case line == "ok":
		select {
		case c.ackCh <- nil:
		default:
			c.logger.Debug("Dropping unsolicited ok")
		}
	case strings.HasPrefix(line, "error:"):
		select {
		case c.ackCh <- &CommandError{Code: line}:
		default:
			c.logger.Warn("Dropping unsolicited error reply", zap.String("line", line))
		}
	case strings.HasPrefix(line, "<"):
		select {
		case c.statusCh <- line:
		default:
			// No exchange waiting; keep only the most recent report.
			select {
			case <-c.statusCh:
			default:
			}
			select {
			case c.statusCh <- line:
			default:
			}
		}
	case strings.HasPrefix(line, "ALARM:"):
		c.alarmMu.Lock()
		c.alarms = append(c.alarms, line)
		c.alarmMu.Unlock()
		c.logger.Warn("Controller raised alarm", zap.String("alarm", line))
	case strings.HasPrefix(line, "Grbl"):
		// Reset banner. Any in-flight exchange will time out on its own.
		c.logger.Info("Controller reset detected", zap.String("banner", line))
	default:
		c.logger.Debug("Unhandled controller message", zap.String("line", line))
	}
}
