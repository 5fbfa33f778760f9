package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/reportscan-worker/internal/config"
	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// NewRootCmd builds the reportscan command tree.
func NewRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "reportscan",
		Short: "Extract clinical parameters from medical report images",
		Long: `reportscan reads scanned medical reports and extracts the parameters a
heart disease classifier needs: age, sex, chest pain type, blood pressure,
cholesterol, fasting blood sugar, ECG results, heart rate and more.

Reports can be processed locally or submitted to the worker queue.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load(config.EnvFile)
			logging.SetOutput(os.Stderr, "console")
			logging.Configure(logLevel, "console")
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newEngineCheckCmd())
	cmd.AddCommand(newSimilarCmd())

	return cmd
}
