package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/reportscan-worker/internal/processor"
	"github.com/adverant/nexus/reportscan-worker/internal/storage"
)

func newSimilarCmd() *cobra.Command {
	var (
		flags       engineFlags
		databaseURL string
		qdrantURL   string
		collection  string
		limit       int
		asText      bool
	)

	cmd := &cobra.Command{
		Use:   "similar <report>",
		Short: "Find stored reports with similar clinical parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var engine processor.Engine
			if !asText {
				var err error
				if engine, err = flags.build(); err != nil {
					return err
				}
			}

			report, err := extractFile(cmd.Context(), processor.NewPipeline(engine), args[0], asText, 1)
			if err != nil {
				return err
			}
			if !report.Outcome.Success {
				return fmt.Errorf("%s: %s", report.Outcome.Code, report.Outcome.Message)
			}
			if !report.Accepted {
				return fmt.Errorf("%s", report.RejectReason)
			}

			sm, err := storage.NewStorageManager(
				flagOrEnv(databaseURL, "DATABASE_URL", ""),
				flagOrEnv(qdrantURL, "QDRANT_URL", ""),
				flagOrEnv(collection, "QDRANT_COLLECTION", "report_features"),
			)
			if err != nil {
				return err
			}
			defer sm.Close()

			matches, err := sm.FindSimilar(cmd.Context(), report.vector.Float32(), limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"features": report.vector.Map(),
				"matches":  matches,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (env DATABASE_URL)")
	cmd.Flags().StringVar(&qdrantURL, "qdrant-url", "", "Qdrant URL (env QDRANT_URL)")
	cmd.Flags().StringVar(&collection, "collection", "", "Qdrant collection (env QDRANT_COLLECTION)")
	cmd.Flags().IntVar(&limit, "limit", 5, "number of matches")
	cmd.Flags().BoolVar(&asText, "text", false, "treat the input as recognized text instead of an image")
	return cmd
}
