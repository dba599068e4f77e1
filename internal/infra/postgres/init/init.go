package infra_pg_init

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rankparty/core/internal/config"
)

func BuildDSN(cfg config.Postgres) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}

func MustEstablishConn(cfg config.Postgres) *sqlx.DB {
	db, err := sqlx.Connect("postgres", BuildDSN(cfg))
	if err != nil {
		log.Fatal(err)
	}

	return db
}
