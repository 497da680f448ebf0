package main

import (
	"database/sql"
	"flag"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-groupbuy/internal/obs"
	"github.com/noah-isme/backend-groupbuy/migrations"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL")).With().Str("component", "migrate").Logger()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	if *down {
		if err := migrations.Down(db); err != nil {
			logger.Fatal().Err(err).Msg("rollback")
		}
		logger.Info().Msg("migrations rolled back")
		return
	}
	if err := migrations.Up(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	logger.Info().Msg("migrations applied")
}
