package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
)

// NewHistory opens the history backend selected by cfg.Type.
func NewHistory(cfg config.HistoryConfig, logger *zap.Logger) (HistoryRepository, error) {
	switch cfg.Type {
	case "", "none":
		logger.Info("sync history disabled")
		return NoopHistory{}, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		repo, err := NewSQLiteHistory(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("sync history using SQLite", zap.String("path", cfg.Path))
		return repo, nil

	case "postgres":
		repo, err := NewPostgresHistory(cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		logger.Info("sync history using PostgreSQL", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
		return repo, nil

	case "mysql":
		repo, err := NewMySQLHistory(cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		logger.Info("sync history using MySQL", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
		return repo, nil

	case "mongodb":
		repo, err := NewMongoHistory(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		logger.Info("sync history using MongoDB", zap.String("database", cfg.MongoDatabase))
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown history database type %q", cfg.Type)
	}
}
