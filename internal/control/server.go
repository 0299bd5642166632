// Package control implements the out-of-band command channel: a
// line-oriented TCP listener accepting one command per line, used to force
// an abort, change the log level, or inspect executor state while the
// pipeline runs.
package control

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tschain/internal/pipeline"
)

// Runner is the part of the pipeline the control channel drives.
type Runner interface {
	// Abort forces every executor's abort flag; the ring shuts down
	// cooperatively.
	Abort()

	// Executors returns a snapshot of every executor in ring order.
	Executors() []pipeline.ExecutorInfo
}

// Server accepts control connections on a TCP address.
type Server struct {
	log      *slog.Logger
	addr     string
	runner   Runner
	level    *slog.LevelVar
	hardStop func()
}

// NewServer creates a control server. level is the shared log level that
// set-log adjusts; hardStop is invoked by "exit abort" and is expected to
// tear the whole process down without draining. If log is nil,
// slog.Default() is used.
func NewServer(addr string, runner Runner, level *slog.LevelVar, hardStop func(), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "control"),
		addr:     addr,
		runner:   runner,
		level:    level,
		hardStop: hardStop,
	}
}

// Start listens and serves control connections until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return l.Close()
	})
	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Warn("accept error", "error", err)
				continue
			}
			go s.handleConnection(conn)
		}
	})
	g.Wait()
	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	s.log.Debug("control connection", "remote", conn.RemoteAddr())

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if quit := s.handleCommand(conn, line); quit {
			return
		}
	}
}

// handleCommand executes one command line and writes the reply. Returns
// true when the connection should close.
func (s *Server) handleCommand(conn net.Conn, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit":
		if len(args) > 0 && args[0] == "abort" {
			// The stop happens before the reply: once the client reads the
			// line, the teardown has already been set in motion.
			s.log.Warn("hard abort requested")
			s.hardStop()
			fmt.Fprintln(conn, "aborting process")
			return true
		}
		fmt.Fprintln(conn, "exiting")
		s.log.Info("exit requested, aborting pipeline")
		s.runner.Abort()
		return true

	case "set-log":
		if len(args) != 1 {
			fmt.Fprintln(conn, "error: usage: set-log <debug|info|warn|error>")
			return false
		}
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(args[0])); err != nil {
			fmt.Fprintf(conn, "error: unknown log level %q\n", args[0])
			return false
		}
		s.level.Set(lvl)
		s.log.Info("log level changed", "level", lvl)
		fmt.Fprintf(conn, "log level set to %s\n", lvl)
		return false

	case "list":
		verbose := len(args) > 0 && args[0] == "verbose"
		for _, info := range s.runner.Executors() {
			flags := ""
			if info.InputEnd {
				flags += " end"
			}
			if info.Aborted {
				flags += " aborted"
			}
			fmt.Fprintf(conn, "%-12s %-9s %-8s window=%d+%d packets=%d%s\n",
				info.Name, info.Role, info.State, info.First, info.Count, info.Processed, flags)
			if verbose {
				fmt.Fprintf(conn, "  bitrate=%d joint=%t\n", info.Bitrate, info.Joint)
			}
		}
		return false

	case "suspend", "resume":
		// Pausing a running executor has no defined semantics for an
		// in-flight, partially filled window; refuse rather than guess.
		fmt.Fprintf(conn, "error: %s not supported\n", cmd)
		return false

	default:
		fmt.Fprintf(conn, "error: unknown command %q\n", cmd)
		return false
	}
}
