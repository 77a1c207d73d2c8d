package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kubedesk/internal/app"
	"kubedesk/internal/bus"
	"kubedesk/internal/config"
	"kubedesk/pkg/logging"
)

// serveDebug enables verbose logging across the engine.
var serveDebug bool

// serveKubeconfig overrides the kubeconfig file location for this run.
var serveKubeconfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine, bridging commands and events over stdio",
	Long: `Starts the engine and speaks the GUI wire protocol on stdio.

Each stdin line is a JSON command request:
  {"command":"get_resource","args":{"kind":"pod"}}
  {"batch":[{"name":"get_all_ns"},{"name":"get_deployments"}]}

Each stdout line is a JSON envelope carrying a command result, a log line,
a metric sample or a lifecycle signal. Engine logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveDebug {
		cfg.LogLevel = "debug"
	}
	if serveKubeconfig != "" {
		cfg.Kubeconfig = serveKubeconfig
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	manager, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runBridge(ctx, manager, os.Stdin, os.Stdout)
}

// wireRequest is one stdin line from the GUI shell. Either Command or Batch
// is set.
type wireRequest struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
	Batch   []app.BatchEntry  `json:"batch,omitempty"`
}

// wireEnvelope is one stdout line to the GUI shell.
type wireEnvelope struct {
	Channel   string    `json:"channel"`
	Command   string    `json:"command,omitempty"`
	Data      string    `json:"data"`
	Meta      string    `json:"meta,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// runBridge pumps commands from in into the engine and engine events back
// out. It returns when in is exhausted or the context is cancelled.
func runBridge(ctx context.Context, manager *app.Manager, in io.Reader, out io.Writer) error {
	var writeMu sync.Mutex
	writeLine := func(env wireEnvelope) {
		b, err := json.Marshal(env)
		if err != nil {
			logging.Warn("bridge", "dropping unencodable envelope: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		fmt.Fprintln(out, string(b))
	}

	forward := bus.ListenerFunc(func(ev bus.Event) {
		writeLine(wireEnvelope{
			Channel:   string(ev.Channel),
			Command:   ev.Command,
			Data:      ev.Data,
			Meta:      ev.Meta,
			Timestamp: ev.Timestamp,
		})
	})
	for _, ch := range []bus.Channel{
		bus.ChannelCommandResult,
		bus.ChannelLifecycle,
		bus.ChannelError,
		bus.ChannelLogs,
		bus.ChannelMetrics,
	} {
		manager.Bus().Subscribe(ch, forward)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			logging.Info("bridge", "shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading command stream: %w", err)
					}
				default:
				}
				return nil
			}
			if line == "" {
				continue
			}
			handleLine(ctx, manager, line, writeLine)
		}
	}
}

func handleLine(ctx context.Context, manager *app.Manager, line string, writeLine func(wireEnvelope)) {
	var req wireRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		logging.Warn("bridge", "ignoring malformed command line: %v", err)
		return
	}

	if len(req.Batch) > 0 {
		if err := manager.ExecuteBatch(req.Batch); err != nil {
			logging.Error("bridge", err, "batch submission failed")
		}
		return
	}

	result, err := manager.ExecuteCommand(ctx, req.Command, req.Args)
	if err != nil {
		logging.Error("bridge", err, "command %q failed", req.Command)
		writeLine(wireEnvelope{
			Channel:   string(bus.ChannelError),
			Command:   req.Command,
			Data:      err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	// Async commands deliver through the bus subscription. Synchronous
	// commands always answer inline, even when the result carries no data,
	// so the GUI shell can pair every request with a reply.
	if app.IsAsync(req.Command) {
		return
	}
	writeLine(wireEnvelope{
		Channel:   string(bus.ChannelCommandResult),
		Command:   result.Command,
		Data:      result.Data,
		Timestamp: time.Now(),
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveKubeconfig, "kubeconfig", "", "Path to the kubeconfig file to use")
}
