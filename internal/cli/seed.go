package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"evaliq-attempt-service/internal/config"
	"evaliq-attempt-service/internal/domain"
	"evaliq-attempt-service/internal/infra/postgres"
	"evaliq-attempt-service/internal/infra/sqlite"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type quizSaver interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// NewSeedCmd loads quizzes from a YAML file into the configured store.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load quizzes from a YAML file into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "quiz YAML file (defaults to quiz.seed_path)")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if file == "" {
		file = cfg.Quiz.SeedPath
	}
	if file == "" {
		return fmt.Errorf("no seed file given")
	}
	quizzes, err := loadQuizFile(file)
	if err != nil {
		return err
	}

	var saver quizSaver
	switch cfg.StoreDriver() {
	case config.DriverPostgres:
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		saver = postgres.NewQuizSeeder(db)
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.DSN(cfg.Store.SQLitePath))
		if err != nil {
			return err
		}
		defer store.Close()
		saver = store
	default:
		return fmt.Errorf("store driver %s cannot be seeded; set quiz.seed_path instead", cfg.StoreDriver())
	}
	return seedQuizzes(ctx, saver, quizzes)
}

func seedQuizzes(ctx context.Context, saver quizSaver, quizzes []domain.Quiz) error {
	for _, quiz := range quizzes {
		if err := saver.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("seed quiz %s: %w", quiz.ID, err)
		}
		log.Printf("seeded quiz %s (%d questions)", quiz.ID, len(quiz.Questions))
	}
	return nil
}

// loadQuizFile reads a `quizzes:` YAML document and validates every entry.
func loadQuizFile(path string) ([]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Quizzes []domain.Quiz `yaml:"quizzes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, quiz := range doc.Quizzes {
		if err := quiz.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Quizzes, nil
}
