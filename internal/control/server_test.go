package control

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/tschain/internal/pipeline"
)

type fakeRunner struct {
	aborts atomic.Int32
	infos  []pipeline.ExecutorInfo
}

func (r *fakeRunner) Abort() { r.aborts.Add(1) }

func (r *fakeRunner) Executors() []pipeline.ExecutorInfo { return r.infos }

// dial wires a control connection to a server over an in-memory pipe.
func dial(t *testing.T, s *Server) (*bufio.Reader, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	go s.handleConnection(server)
	t.Cleanup(func() { client.Close() })
	return bufio.NewReader(client), client
}

func newTestServer(runner *fakeRunner, level *slog.LevelVar, hardStop func()) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", runner, level, hardStop, log)
}

func TestExitAbortsPipeline(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, new(slog.LevelVar), nil)
	r, conn := dial(t, s)

	_, err := conn.Write([]byte("exit\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "exiting\n", line)

	// The server closes the connection after exit.
	_, err = r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(1), runner.aborts.Load())
}

func TestExitAbortInvokesHardStop(t *testing.T) {
	t.Parallel()

	var hard atomic.Bool
	runner := &fakeRunner{}
	s := newTestServer(runner, new(slog.LevelVar), func() { hard.Store(true) })
	r, conn := dial(t, s)

	_, err := conn.Write([]byte("exit abort\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "aborting process\n", line)
	// The reply is written only after the stop hook ran, so reading it
	// guarantees the hook is visible here.
	assert.True(t, hard.Load())
	assert.Equal(t, int32(0), runner.aborts.Load(), "hard abort must not drain the pipeline")
}

func TestSetLogChangesSharedLevel(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	s := newTestServer(&fakeRunner{}, level, nil)
	r, conn := dial(t, s)

	_, err := conn.Write([]byte("set-log debug\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "log level set to DEBUG\n", line)
	assert.Equal(t, slog.LevelDebug, level.Level())

	_, err = conn.Write([]byte("set-log shouting\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "error: unknown log level")
	assert.Equal(t, slog.LevelDebug, level.Level(), "bad input must not change the level")
}

func TestListReportsExecutors(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{infos: []pipeline.ExecutorInfo{
		{Name: "srt", Role: "input", State: "running", First: 10, Count: 490, Processed: 1234, Bitrate: 5_000_000},
		{Name: "collect", Role: "output", State: "waiting", First: 500, Count: 510, InputEnd: true, Joint: true},
	}}
	s := newTestServer(runner, new(slog.LevelVar), nil)
	r, conn := dial(t, s)

	_, err := conn.Write([]byte("list\n"))
	require.NoError(t, err)
	first, err := r.ReadString('\n')
	require.NoError(t, err)
	second, err := r.ReadString('\n')
	require.NoError(t, err)

	assert.Contains(t, first, "srt")
	assert.Contains(t, first, "window=10+490")
	assert.Contains(t, first, "packets=1234")
	assert.Contains(t, second, "collect")
	assert.Contains(t, second, "end")

	_, err = conn.Write([]byte("list verbose\n"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = r.ReadString('\n')
		require.NoError(t, err)
		detail, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, detail, "bitrate=")
		assert.Contains(t, detail, "joint=")
	}
}

func TestUnsupportedAndUnknownCommands(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, new(slog.LevelVar), nil)
	r, conn := dial(t, s)

	for cmd, want := range map[string]string{
		"suspend":  "error: suspend not supported\n",
		"resume":   "error: resume not supported\n",
		"transmog": "error: unknown command \"transmog\"\n",
	} {
		_, err := conn.Write([]byte(cmd + "\n"))
		require.NoError(t, err)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	assert.Equal(t, int32(0), runner.aborts.Load())
}
