package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"talentchat/internal/config"
	"talentchat/internal/db"
	"talentchat/internal/repository"
	"talentchat/internal/service"
)

const (
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorReset  = "\033[0m"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "solo lista los rooms a fusionar, sin escribir")
	asJSON := flag.Bool("json", false, "imprime el reporte como JSON")
	flag.Parse()

	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.StorageBackend == config.StorageBackendMemory {
		log.Fatal("migrate_rooms needs the postgres storage backend")
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	if err := db.Ping(ctx, pool); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	migrator := service.NewRoomMigrator(logger, repository.NewPgMessageRepository(pool))

	if *dryRun {
		plans, report, err := migrator.Plan(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if *asJSON {
			printJSON(map[string]any{"plans": plans, "report": report})
			return
		}
		for _, p := range plans {
			fmt.Printf("%s[merge]%s %s -> %s (%d mensajes, %d ya en destino)\n", colorCyan, colorReset, p.OldID, p.NewID, p.Messages, p.Existing)
		}
		printSkipped(report)
		fmt.Printf("%s%d rooms escaneados, %d a fusionar%s\n", colorGreen, report.Scanned, len(plans), colorReset)
		return
	}

	report, err := migrator.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if *asJSON {
		printJSON(report)
	} else {
		printSkipped(report)
		fmt.Printf("%s%d rooms escaneados, %d fusionados, %d mensajes movidos, %d fallidos%s\n",
			colorGreen, report.Scanned, report.Merged, report.MessagesMoved, report.Failed, colorReset)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func printSkipped(report service.MigrationReport) {
	for _, s := range report.Skipped {
		fmt.Printf("%s[skip]%s %s: %s\n", colorYellow, colorReset, s.RoomID, s.Reason)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
