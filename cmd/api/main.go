package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ravicomex/ncm-dashboard/internal/admin"
	"github.com/ravicomex/ncm-dashboard/internal/broker"
	"github.com/ravicomex/ncm-dashboard/internal/config"
	"github.com/ravicomex/ncm-dashboard/internal/db"
	"github.com/ravicomex/ncm-dashboard/internal/grid"
	"github.com/ravicomex/ncm-dashboard/internal/handlers"
	"github.com/ravicomex/ncm-dashboard/internal/ncm"
	"github.com/ravicomex/ncm-dashboard/internal/repository"
)

// cmd/api/main.go
func main() {
	cfg := config.Load() // .env

	// Logger JSON "global" - permite usar slog.Info/slog.Error/Warn em qualquer lugar
	_ = config.InitLogger(cfg.LogLevel)
	slog.Info("starting", "port", cfg.Port, "mongo_db", cfg.MongoDB)

	// HOOK: admin job (one-off)
	task := flag.String("task", "", "admin task: import")
	file := flag.String("file", "", "planilha para a task import")
	flag.Parse()
	if *task != "" {
		switch *task {
		case "import":
			path := *file
			if path == "" {
				path = cfg.NCMTablePath
			}
			// conecta somente o necessário para a carga
			client, err := db.NewMongoClient(cfg.MongoURI)
			if err != nil {
				slog.Error("mongo_connect_error", "err", err)
				os.Exit(1)
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			repo := repository.NewRecordRepository(client.Database(cfg.MongoDB))
			if err := admin.ImportFile(context.Background(), repo, path, slog.Default()); err != nil {
				slog.Error("import_failed", "err", err)
				os.Exit(1)
			}
			slog.Info("import_done")
			return // encerra o processo sem subir HTTP
		default:
			slog.Error("unknown_admin_task", "task", *task)
			os.Exit(2)
		}
	}

	// conecta Mongo
	client, err := db.NewMongoClient(cfg.MongoURI)
	if err != nil {
		log.Fatalf("mongo connect error: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	repo := repository.NewRecordRepository(client.Database(cfg.MongoDB))
	if err := repo.EnsureIndexes(context.Background()); err != nil {
		slog.Warn("ensure_indexes_error", "err", err)
	}

	// publisher (Rabbit)
	pub, err := broker.NewPublisher(cfg.RabbitURI, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbitmq connect error: %v", err)
	}
	defer pub.Close()

	// tabela oficial de NCM + raspagem Systax como reserva
	table := ncm.NewTable(ncm.FileLoader(cfg.NCMTablePath))
	lookup := ncm.NewService(table, ncm.NewSystaxClient(cfg.SystaxBaseURL), slog.Default())

	h := handlers.NewRecordHandler(repo, pub, grid.New(repo), lookup, cfg.ListLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/api/registros", h.Records)
	mux.HandleFunc("/api/registros/", h.RecordSubtree)
	mux.HandleFunc("/api/imports", h.Imports)
	mux.HandleFunc("/api/ncm/", h.NCMSubtree)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	// start server
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown error", "err", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		slog.Info("http_request", "method", r.Method, "path", r.URL.Path, "duration", fmtDuration(dur))
	})
}

func fmtDuration(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
