package app

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/rankparty/core/internal/config"
	http_room "github.com/rankparty/core/internal/delivery/http/room"
	ws_room "github.com/rankparty/core/internal/delivery/ws/room"
	infra_generator "github.com/rankparty/core/internal/infra/generator"
	infra_pg_docstore "github.com/rankparty/core/internal/infra/postgres/docstore"
	infra_pg_init "github.com/rankparty/core/internal/infra/postgres/init"
	infra_redis_docstore "github.com/rankparty/core/internal/infra/redis/docstore"
	infra_redis_init "github.com/rankparty/core/internal/infra/redis/init"
	"github.com/rankparty/core/internal/store"
	store_memory "github.com/rankparty/core/internal/store/memory"
	usecase_room "github.com/rankparty/core/internal/usecase/room"
)

func Go(cfg *config.Config) {
	logger := slog.Default()
	st := buildStore(cfg, logger)

	roomUC := usecase_room.New(st, usecase_room.WithLogger(logger))
	hub := ws_room.New(roomUC, ws_room.WithLogger(logger))
	generator := infra_generator.New(cfg.Generator, infra_generator.WithLogger(logger))

	controller := http_room.New(roomUC, generator, hub, http_room.WithLogger(logger))

	router := gin.Default()
	api := router.Group("/api/v1")
	controller.RegisterRoutes(api)

	addr := fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port)
	logger.Info("starting server", "addr", addr, "store", cfg.Store.Backend)
	if err := router.Run(addr); err != nil {
		log.Fatal(err)
	}
}

func buildStore(cfg *config.Config, logger *slog.Logger) store.Store {
	switch cfg.Store.Backend {
	case "postgres":
		db := infra_pg_init.MustEstablishConn(cfg.Postgres)
		infra_pg_docstore.MustMigrate(db)
		return infra_pg_docstore.New(db, infra_pg_init.BuildDSN(cfg.Postgres),
			infra_pg_docstore.WithLogger(logger))
	case "memory":
		return store_memory.New()
	default:
		client := infra_redis_init.MustEstablishConn(cfg.Redis)
		return infra_redis_docstore.New(client, cfg.Store.Prefix,
			infra_redis_docstore.WithLogger(logger))
	}
}
