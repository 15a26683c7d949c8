package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"

	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/internal/storage/memory"
	pgstorage "github.com/OCAP2/conveyor/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/conveyor/internal/storage/sqlite"
	wsstorage "github.com/OCAP2/conveyor/internal/storage/websocket"
)

// initStorage builds the configured backend(s) and initializes them.
func initStorage(storageCfg config.StorageConfig, logger *slog.Logger, dbLogger zerolog.Logger) (storage.Backend, error) {
	types := storageTypes(storageCfg.Type)

	var backends storage.Multi
	for _, typ := range types {
		cfg := storageCfg
		cfg.Type = typ
		backend, err := createStorageBackend(cfg, logger, dbLogger)
		if err != nil {
			_ = backends.Close()
			return nil, err
		}
		backends = append(backends, backend)
	}

	var backend storage.Backend = backends
	if len(backends) == 1 {
		backend = backends[0]
	}
	if err := backend.Init(); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	logger.Info("Storage ready", "types", types)
	return backend, nil
}

// storageTypes splits a comma separated storage.type value. Empty means memory.
func storageTypes(value string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		typ := strings.ToLower(strings.TrimSpace(part))
		if typ == "" || seen[typ] {
			continue
		}
		seen[typ] = true
		out = append(out, typ)
	}
	if len(out) == 0 {
		out = []string{"memory"}
	}
	return out
}

func createStorageBackend(storageCfg config.StorageConfig, logger *slog.Logger, dbLogger zerolog.Logger) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		logger.Info("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Dependencies{
			Logger:        logger,
			DBLogger:      dbLogger,
			FlushInterval: storageCfg.FlushInterval,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, storageCfg.FlushInterval, logger, dbLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend selected", "dumpDir", storageCfg.SQLite.DumpDir)
		return backend, nil

	case "websocket":
		cfg := storageCfg.WebSocket
		cfg.URL = httpToWS(cfg.URL)
		logger.Info("WebSocket storage backend selected", "url", cfg.URL)
		return wsstorage.New(cfg, logger), nil

	case "memory":
		logger.Info("Memory storage backend selected", "outputDir", storageCfg.Memory.OutputDir)
		return memory.New(storageCfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
