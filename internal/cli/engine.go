package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/reportscan-worker/internal/processor"
)

// engineFlags selects a recognition engine. Empty flags fall back to the
// worker's environment variables.
type engineFlags struct {
	engine    string
	language  string
	visionURL string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.engine, "engine", "", "recognition engine: tesseract or vision (env OCR_ENGINE)")
	cmd.Flags().StringVar(&f.language, "language", "", "tesseract language list, e.g. eng+deu (env TESSERACT_LANGUAGE)")
	cmd.Flags().StringVar(&f.visionURL, "vision-url", "", "vision OCR service URL (env VISION_OCR_URL)")
}

func (f *engineFlags) build() (processor.Engine, error) {
	return processor.NewEngine(
		flagOrEnv(f.engine, "OCR_ENGINE", processor.EngineTesseract),
		flagOrEnv(f.language, "TESSERACT_LANGUAGE", "eng"),
		flagOrEnv(f.visionURL, "VISION_OCR_URL", ""),
	)
}

func flagOrEnv(value, key, fallback string) string {
	if value != "" {
		return value
	}
	if env := os.Getenv(key); env != "" {
		return env
	}
	return fallback
}

func newEngineCheckCmd() *cobra.Command {
	var flags engineFlags
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "engine-check",
		Short: "Check that the recognition engine is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := flags.build()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if !engine.IsAvailable(ctx) {
				return fmt.Errorf("%s engine is not available", engine.Name())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s engine is available\n", engine.Name())
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the engine")
	return cmd
}
