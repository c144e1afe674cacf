package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/loganszeto/respkv/internal/config"
	"github.com/loganszeto/respkv/internal/engine"
	"github.com/loganszeto/respkv/internal/persistence"
	"github.com/loganszeto/respkv/internal/protocol"
	"github.com/loganszeto/respkv/internal/server"
	"github.com/loganszeto/respkv/internal/stats"
	"github.com/loganszeto/respkv/internal/store"
	"github.com/loganszeto/respkv/internal/util"
)

// demoEnv configures the hosted demo. The local disk is scratch space: the
// log is mirrored to a Cloud Storage object.
type demoEnv struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Bucket   string `env:"KV_DEMO_BUCKET,required"`
	Object   string `env:"KV_DEMO_OBJECT" envDefault:"appendonly.aof"`
	DataDir  string `env:"KV_DEMO_DATA_DIR" envDefault:"/tmp/kv-demo"`
	LogLevel string `env:"KV_DEMO_LOG_LEVEL" envDefault:"info"`
}

func main() {
	_ = godotenv.Load()
	var cfg demoEnv
	if err := env.Parse(&cfg); err != nil {
		slog.Error("parse env", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Error("kv-demo stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg demoEnv, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mirror, err := persistence.NewGCSMirror(ctx, cfg.Bucket, cfg.Object)
	if err != nil {
		return err
	}
	defer mirror.Close()

	path := persistence.Path(cfg.DataDir, "")
	if err := mirror.Download(ctx, path); err != nil {
		return err
	}

	aof, err := persistence.Open(path, persistence.Options{Fsync: true})
	if err != nil {
		return err
	}
	defer aof.Close()

	clock := util.RealClock{}
	st := store.NewMemTable()
	replayed, err := persistence.Replay(path, st, clock.NowMs())
	if err != nil {
		return err
	}
	logger.Info("replay finished", "applied", replayed.Applied, "expired", replayed.Expired, "malformed", replayed.Malformed)

	metrics := stats.New()
	h := &wsHandler{
		eng:    engine.New(st, aof, engine.WithClock(clock), engine.WithStats(metrics), engine.WithLogger(logger)),
		mirror: mirror,
		path:   path,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", server.MetricsHandler(metrics))
	mux.Handle("/healthz", server.MetricsHandler(metrics))
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("kv-demo ok\n"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withLogging(mux, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("kv demo listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

type uploader interface {
	Upload(ctx context.Context, path string) error
}

type wsHandler struct {
	eng    *engine.Engine
	mirror uploader
	path   string
	logger *slog.Logger
}

// execute runs one inline command and mirrors the log after a mutation. A
// failed upload leaves the write applied locally, so the reply is kept and
// the failure only logged and counted.
func (h *wsHandler) execute(ctx context.Context, line string) string {
	res := h.eng.ExecuteDetailed(protocol.ParseInline(line))
	if res.Durability != engine.DurabilityNone {
		if err := h.mirror.Upload(ctx, h.path); err != nil {
			h.eng.Stats().RecordAOFError()
			h.logger.Warn("mirror upload failed, continuing without remote copy", "err", err)
		}
	}
	return protocol.Format(res.Reply) + "\n"
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleWS treats every text frame as one inline command and answers with
// the reply rendered like redis-cli.
func (h *wsHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		reply := h.execute(r.Context(), string(payload))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
	}
}
