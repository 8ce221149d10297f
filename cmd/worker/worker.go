package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/database"
	"papertrade/internal/ledger"
	"papertrade/internal/logger"
	"papertrade/internal/tasks"
)

func main() {
	cfg := config.Load()
	_ = logger.Init("papertrade-worker")
	log := logger.L()

	db := &database.PostgreSQL{URI: cfg.DatabaseURI()}
	pool, err := db.Connect(context.Background())
	if err != nil {
		log.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	exporter := &historyExporter{
		store: ledger.NewPostgres(pool),
		dir:   cfg.ExportDir,
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default":  1,
				"critical": 2,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeHistoryExport, exporter.Handle)

	log.Info("worker started")
	if err := srv.Run(mux); err != nil {
		log.Fatal("could not run worker", zap.Error(err))
	}
}

type historyExporter struct {
	store ledger.Store
	dir   string
}

// Handle writes one user's full transaction history to a CSV file under
// the export directory. Returning an error lets asynq retry the task.
func (e *historyExporter) Handle(ctx context.Context, t *asynq.Task) error {
	var payload tasks.HistoryExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	history, err := e.store.History(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("load history for user %d: %w", payload.UserID, err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	// The filename is built from the numeric id, never the username: a
	// username is free-form input and must not influence filesystem paths.
	name := fmt.Sprintf("history-%d-%s.csv", payload.UserID, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "symbol", "type", "shares", "price"}); err != nil {
		return err
	}
	for _, tx := range history {
		record := []string{
			tx.CreatedAt.UTC().Format(time.RFC3339),
			tx.Symbol,
			tx.Type,
			fmt.Sprintf("%d", tx.Shares),
			tx.Price.String(),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	logger.WithUser(payload.UserID).Info("history exported",
		zap.String("username", payload.Username),
		zap.String("path", path),
		zap.Int("rows", len(history)),
	)
	return nil
}
