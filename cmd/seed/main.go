package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-smartflow/internal/db"
	"github.com/hackgods/clinic-smartflow/internal/demo"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

func main() {
	practitioners := flag.Int("practitioners", 20, "number of practitioners to create")
	patients := flag.Int("patients", 5000, "number of patients to create")
	seed := flag.Uint64("seed", 0, "faker seed (0 picks a random one)")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "seed")

	if err := run(logger, *practitioners, *patients, *seed); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger, practitioners, patients int, seed uint64) error {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return errors.New("POSTGRES_DSN is required")
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(connectCtx, dsn, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	ds := demo.Generate(gofakeit.New(seed), practitioners, patients, time.Now())
	logger.Info("seeding",
		"practitioners", len(ds.Practitioners), "patients", len(ds.Patients), "consultation_types", len(ds.ConsultationTypes))

	if err := demo.InsertPostgres(context.Background(), pool, ds, 500); err != nil {
		return err
	}

	logger.Info("seed complete")
	return nil
}
