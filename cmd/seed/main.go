package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"surveyrun/internal/config"
	"surveyrun/internal/repository"
)

// seed copies the survey definitions of SURVEY_DIR into the Mongo surveys collection
func main() {
	var (
		envFiles []string
		dir      string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Upsert survey definition files into MongoDB",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.SurveyDir
			}

			surveys, err := repository.NewSurveyFileRepo(dir).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(surveys) == 0 {
				return errors.Errorf("no surveys found in %s", dir)
			}

			if dryRun {
				for _, sv := range surveys {
					fmt.Fprintf(cmd.OutOrStdout(), "would seed %s (%s, %d steps)\n", sv.ID, sv.Title, len(sv.Steps))
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
			if err != nil {
				return errors.Wrap(err, "connect mongo")
			}
			defer client.Disconnect(context.Background())

			repo := repository.NewSurveyRepo(client.Database(cfg.MongoDB))
			for _, sv := range surveys {
				if err := repo.Upsert(ctx, sv); err != nil {
					return err
				}
				log.Info().Str("survey", sv.ID).Int("steps", len(sv.Steps)).Msg("seeded survey")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully seeded %d surveys into %s\n", len(surveys), cfg.MongoDB)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "env files to load instead of .env")
	cmd.Flags().StringVar(&dir, "dir", "", "survey directory (defaults to SURVEY_DIR)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decode and list surveys without writing")

	cobra.CheckErr(cmd.Execute())
}
