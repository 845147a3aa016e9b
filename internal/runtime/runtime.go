package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/dyslu/internal/bus"
	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/conversation"
	"github.com/loqalabs/dyslu/internal/natsserver"
	"github.com/loqalabs/dyslu/internal/persona"
	"github.com/loqalabs/dyslu/internal/pipeline"
	"github.com/loqalabs/dyslu/internal/playback"
	"github.com/loqalabs/dyslu/internal/shell"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	busClient     *bus.Client
	embedded      *natsserver.EmbeddedServer
	shell         *shell.Shell

	addr        atomic.Value
	metricsAddr atomic.Value
	ready       atomic.Bool
	wg          sync.WaitGroup
}

type Option func(*Runtime)

// WithConsole sets the terminal streams used when frontend=console.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(r *Runtime) {
		r.in = in
		r.out = out
	}
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Addr is the bound HTTP address once the runtime is ready.
func (r *Runtime) Addr() string {
	v, _ := r.addr.Load().(string)
	return v
}

// MetricsAddr is the bound Prometheus address once the runtime is ready.
func (r *Runtime) MetricsAddr() string {
	v, _ := r.metricsAddr.Load().(string)
	return v
}

func (r *Runtime) Ready() bool { return r.ready.Load() }

// Start wires every component, serves until ctx is done or the console
// quits, then shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	traceOut := io.Writer(os.Stdout)
	if r.cfg.Frontend == "console" {
		traceOut = os.Stderr
	}
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, traceOut, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdownTelemetry()

	if err := r.startBus(ctx); err != nil {
		return err
	}
	defer r.stopBus()

	front, err := r.assemble(ctx)
	if err != nil {
		return err
	}
	defer r.shell.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if front.web != nil {
		mux.Handle("/ws", front.web)
	}
	if front.remote != nil {
		mux.Handle(shell.AudioPath, front.remote)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := r.serve(r.httpServer, addr, &r.addr); err != nil {
		return err
	}
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		if err := r.serve(r.metricsServer, r.cfg.Telemetry.PrometheusBind, &r.metricsAddr); err != nil {
			r.shutdownServers()
			return err
		}
	}

	if front.console != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := front.console.Run(ctx); err != nil {
				r.logger.Error("console failed", slog.String("error", err.Error()))
			}
			cancel()
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("frontend", r.cfg.Frontend))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	r.shutdownServers()
	r.wg.Wait()
	return nil
}

type frontends struct {
	web     *shell.WebFrontend
	remote  *shell.RemotePlayer
	console *shell.Console
}

// assemble builds the turn pipeline and the shell around it.
func (r *Runtime) assemble(ctx context.Context) (frontends, error) {
	var front frontends

	b, err := newBackends(r.cfg, r.logger)
	if err != nil {
		return front, err
	}

	p, err := persona.Load(r.cfg.Persona.Path)
	if err != nil {
		return front, err
	}
	r.logger.Info("persona loaded", slog.String("name", p.Name), slog.String("path", r.cfg.Persona.Path))

	log := conversation.New()
	player, remote, err := newPlayer(r.cfg.Playback, r.busClient, r.logger)
	if err != nil {
		return front, fmt.Errorf("playback: %w", err)
	}
	front.remote = remote
	reveals := playback.NewSync(log, player, playback.ConfigFromPlayback(r.cfg.Playback), r.logger)

	pl, err := pipeline.New(ctx, pipeline.Deps{
		Recognizer:  b.recognizer,
		Generator:   b.generator,
		Synthesizer: b.synthesizer,
		Log:         log,
		Reveals:     reveals,
	}, pipeline.OptionsFromConfig(r.cfg, p), r.logger)
	if err != nil {
		return front, err
	}

	device, stream, err := newDevice(r.cfg.Capture)
	if err != nil {
		return front, fmt.Errorf("capture: %w", err)
	}
	var sh *shell.Shell
	recorder := capture.NewRecorder(device,
		capture.Format{SampleRate: r.cfg.Capture.SampleRate, Channels: r.cfg.Capture.Channels},
		time.Duration(r.cfg.Capture.LevelIntervalMS)*time.Millisecond,
		func(sessionID string, rms float64) { sh.Level(sessionID, rms) },
		r.logger)
	sh = shell.New(ctx, recorder, pl, log, r.busClient, r.logger)
	r.shell = sh

	switch r.cfg.Frontend {
	case "web":
		front.web = shell.NewWebFrontend(sh, stream, remote, r.busClient, r.logger)
	case "console":
		front.console = shell.NewConsole(sh, log, r.in, r.out)
	}
	return front, nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.embedded = embedded
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return err
	}
	r.busClient = client
	return nil
}

func (r *Runtime) stopBus() {
	r.busClient.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) serve(srv *http.Server, addr string, bound *atomic.Value) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	bound.Store(ln.Addr().String())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Runtime) shutdownServers() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) shutdownTelemetry() {
	if r.tracerClose == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.tracerClose(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
