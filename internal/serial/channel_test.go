package serial

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePort emulates the controller side of the serial link. The test
// scripts replies by writing into respond.
type fakePort struct {
	reader *io.PipeReader
	writes chan string
	closed chan struct{}
}

func newFakePort() (*fakePort, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &fakePort{
		reader: pr,
		writes: make(chan string, 16),
		closed: make(chan struct{}),
	}, pw
}

func (f *fakePort) Read(p []byte) (int, error)  { return f.reader.Read(p) }
func (f *fakePort) Write(p []byte) (int, error) { f.writes <- string(p); return len(p), nil }
func (f *fakePort) Close() error {
	close(f.closed)
	return f.reader.Close()
}

func (f *fakePort) awaitWrite(t *testing.T) string {
	t.Helper()
	select {
	case w := <-f.writes:
		return w
	case <-time.After(time.Second):
		t.Fatal("no write observed on the port")
		return ""
	}
}

func newTestChannel(t *testing.T, timeout time.Duration) (*Channel, *fakePort, *io.PipeWriter) {
	t.Helper()
	port, respond := newFakePort()
	ch := NewChannel(port, timeout, nil, zap.NewNop())
	t.Cleanup(func() {
		ch.Close()
		respond.Close()
	})
	return ch, port, respond
}

func TestSendAcknowledged(t *testing.T) {
	ch, port, respond := newTestChannel(t, time.Second)

	done := make(chan error, 1)
	go func() { done <- ch.Send(context.Background(), "G90") }()

	assert.Equal(t, "G90\n", port.awaitWrite(t))
	_, err := respond.Write([]byte("ok\r\n"))
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestSendRejectedWithCommandError(t *testing.T) {
	ch, port, respond := newTestChannel(t, time.Second)

	done := make(chan error, 1)
	go func() { done <- ch.Send(context.Background(), "G999") }()

	port.awaitWrite(t)
	_, err := respond.Write([]byte("error:20\r\n"))
	require.NoError(t, err)

	sendErr := <-done
	require.Error(t, sendErr)

	var cmdErr *CommandError
	require.ErrorAs(t, sendErr, &cmdErr)
	assert.Equal(t, "error:20", cmdErr.Code)
}

func TestSendTimesOutWithoutReply(t *testing.T) {
	ch, port, _ := newTestChannel(t, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- ch.Send(context.Background(), "G4 P10") }()

	port.awaitWrite(t)
	assert.ErrorIs(t, <-done, ErrTimeout)
}

func TestQueryReturnsStatusReport(t *testing.T) {
	ch, port, respond := newTestChannel(t, time.Second)

	type result struct {
		report string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := ch.Query(context.Background())
		done <- result{report, err}
	}()

	assert.Equal(t, string(RealtimeStatus), port.awaitWrite(t))
	_, err := respond.Write([]byte("<Idle|MPos:0.000,0.000,0.000>\r\n"))
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.report, "<Idle"))
}

func TestSendRealtimeBypassesExchange(t *testing.T) {
	ch, port, respond := newTestChannel(t, time.Second)

	// Occupy the exchange lock with a command that has not been answered.
	pending := make(chan error, 1)
	go func() { pending <- ch.Send(context.Background(), "$H") }()
	port.awaitWrite(t)

	// The realtime byte still goes out immediately.
	require.NoError(t, ch.SendRealtime(RealtimeFeedHold))
	assert.Equal(t, string(RealtimeFeedHold), port.awaitWrite(t))

	_, err := respond.Write([]byte("ok\r\n"))
	require.NoError(t, err)
	require.NoError(t, <-pending)
}

func TestAlarmsCollectedAndDrained(t *testing.T) {
	ch, _, respond := newTestChannel(t, time.Second)

	_, err := respond.Write([]byte("ALARM:1\r\nALARM:9\r\n"))
	require.NoError(t, err)

	// The read loop consumes the lines asynchronously.
	require.Eventually(t, func() bool {
		ch.alarmMu.Lock()
		defer ch.alarmMu.Unlock()
		return len(ch.alarms) == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"ALARM:1", "ALARM:9"}, ch.DrainAlarms())
	assert.Empty(t, ch.DrainAlarms())
}

func TestSendAfterCloseFails(t *testing.T) {
	ch, _, _ := newTestChannel(t, time.Second)
	require.NoError(t, ch.Close())

	err := ch.Send(context.Background(), "G90")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ch.SendRealtime(RealtimeFeedHold), ErrClosed)
}

func TestContextDeadlineWinsOverDefault(t *testing.T) {
	ch, port, _ := newTestChannel(t, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ch.Send(ctx, "G90") }()
	port.awaitWrite(t)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not respect the context deadline")
	}
}
