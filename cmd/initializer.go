package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"laptopRent/internal/config"
	"laptopRent/internal/rental"
	"laptopRent/internal/rental/repo"
)

type application struct {
	errorLog  *log.Logger
	infoLog   *log.Logger
	logger    *slog.Logger
	db        *sqlx.DB
	rdb       *redis.Client
	jwtSecret []byte
	rental    *rental.Deps
}

func initializeApp(cfg config.Config, rentalCfg rental.RentalConfig, db *sqlx.DB, rdb *redis.Client, logger *slog.Logger, errorLog, infoLog *log.Logger) *application {
	deps := &rental.Deps{
		DB:         db,
		Logger:     logger,
		Config:     rentalCfg,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	if rdb != nil {
		deps.RDB = rdb
	}
	return &application{
		errorLog:  errorLog,
		infoLog:   infoLog,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		jwtSecret: []byte(cfg.Auth.JWTSecret),
		rental:    deps,
	}
}

func openDB(cfg config.Config, infoLog *log.Logger) (*sqlx.DB, error) {
	db, err := repo.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	infoLog.Printf("Successfully connected to %s database", cfg.Database.Driver)
	return db, nil
}

// openRedis returns nil when no address is configured.
func openRedis(cfg config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
