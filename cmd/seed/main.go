package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"vpn-subscription-bot/internal/config"
	"vpn-subscription-bot/internal/domain/model"
	"vpn-subscription-bot/internal/domain/ports/repository"
	pg "vpn-subscription-bot/internal/infra/db/postgres"
	"vpn-subscription-bot/internal/infra/db/sqlite"
)

// Seeds a few tariffs into an empty ledger.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var tariffs repository.TariffRepository
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.URL)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		tariffs = sqlite.NewTariffRepo(db)
	default:
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		tariffs = pg.NewPostgresTariffRepo(pool)
	}

	existing, err := tariffs.ListActive(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list tariffs: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d tariffs already present. No changes.\n", len(existing))
		for _, t := range existing {
			fmt.Printf("  - %s (id=%s, days=%d, price=%d %s)\n", t.Name, t.ID, t.DurationDays, t.Price, t.Currency)
		}
		return
	}

	seed := []struct {
		Name  string
		Days  int
		Price int64
	}{
		{"Week", 7, 9_900},
		{"Month", 30, 29_900},
		{"Quarter", 90, 79_900},
	}
	for _, s := range seed {
		t, err := model.NewTariff("", s.Name, s.Days, s.Price, "RUB")
		if err != nil {
			log.Fatalf("tariff %q: %v", s.Name, err)
		}
		if err := tariffs.Save(ctx, repository.NoTX, t); err != nil {
			log.Fatalf("save tariff %q: %v", s.Name, err)
		}
		fmt.Printf("seeded: %s (id=%s, days=%d, price=%d RUB)\n", t.Name, t.ID, t.DurationDays, t.Price)
	}
	fmt.Println("Seeding complete.")
}
