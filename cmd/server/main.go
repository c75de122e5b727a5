package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/wttaideveloper/BTQ-Project-sub000/internal/config"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/httpapi"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/hub"
	"github.com/wttaideveloper/BTQ-Project-sub000/internal/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	ctx := context.Background()
	h := hub.New(ctx, cfg, st, log)

	handler := httpapi.SetupRoutes(h, log)

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
