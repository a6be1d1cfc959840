// swapctl — офлайновый запуск конвейера подбора по дампу позиций.
// Удобен для прогонки реальных данных без поднятия сервиса и базы.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/rajivgeraev/swaploop-api/internal/config"
	"github.com/rajivgeraev/swaploop-api/internal/matching"
	"github.com/rajivgeraev/swaploop-api/internal/models"
	"github.com/rajivgeraev/swaploop-api/internal/storage"
)

func main() {
	app := &cli.App{
		Name:  "swapctl",
		Usage: "Офлайновый подбор обменов по дампу позиций",
		Commands: []*cli.Command{
			runCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}

// dump — формат входного файла: пользователи с городами и репутацией
// плюс их позиции
type dump struct {
	Users []struct {
		ID        uuid.UUID         `json:"id"`
		Locations []models.Location `json:"locations"`
		Trust     float64           `json:"trust"`
	} `json:"users"`
	Items []models.ListingItem `json:"items"`
}

var runCmd = &cli.Command{
	Name:    "run",
	Usage:   "Запустить конвейер подбора по дампу",
	Aliases: []string{"r"},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "items",
			Required: true,
			Usage:    "входной dump.json с пользователями и позициями",
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "ограничить подбор одним пользователем (UUID)",
		},
		&cli.IntFlag{
			Name:  "max-participants",
			Value: 10,
			Usage: "максимум участников цепочки",
		},
		&cli.IntFlag{
			Name:  "edge-budget",
			Value: 50000,
			Usage: "бюджет рёбер на поиск цепочек",
		},
	},
	Action: func(ctx *cli.Context) error {
		raw, err := os.ReadFile(ctx.String("items"))
		if err != nil {
			return err
		}
		var d dump
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("разбор дампа: %w", err)
		}

		store := storage.NewMemoryStore()
		for _, u := range d.Users {
			store.SetUser(u.ID, u.Locations, u.Trust)
		}
		for i := range d.Items {
			if err := store.CreateItem(context.Background(), &d.Items[i]); err != nil {
				return fmt.Errorf("позиция %s: %w", d.Items[i].ID, err)
			}
		}

		cfg := config.DefaultMatching()
		cfg.MaxChainParticipants = ctx.Int("max-participants")
		cfg.CycleEdgeBudget = ctx.Int("edge-budget")

		var userID *uuid.UUID
		if raw := ctx.String("user"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("неверный UUID пользователя: %w", err)
			}
			userID = &parsed
		}

		pipeline := matching.NewPipeline(cfg, store, store, matching.LogDispatcher{})
		report, err := pipeline.Run(context.Background(), userID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
