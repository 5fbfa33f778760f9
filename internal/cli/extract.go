package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/reportscan-worker/internal/features"
	"github.com/adverant/nexus/reportscan-worker/internal/processor"
)

// extractReport is printed for every input file.
type extractReport struct {
	File         string                      `json:"file"`
	MimeType     string                      `json:"mimeType,omitempty"`
	Outcome      processor.ExtractionOutcome `json:"outcome"`
	Accepted     bool                        `json:"accepted"`
	RejectReason string                      `json:"rejectReason,omitempty"`
	Features     map[string]float64          `json:"features,omitempty"`

	vector features.Vector
}

func newExtractCmd() *cobra.Command {
	var (
		flags         engineFlags
		minParameters int
		asText        bool
		rangesFile    string
	)

	cmd := &cobra.Command{
		Use:   "extract <report>...",
		Short: "Extract parameters from report images",
		Long: `Runs the extraction pipeline locally and prints one JSON document per report.

With --text the inputs are read as already-recognized report text and the
recognition engine is not used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var engine processor.Engine
			if !asText {
				var err error
				if engine, err = flags.build(); err != nil {
					return err
				}
			}
			pipeline, err := newPipeline(engine, rangesFile)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			var bar *progressbar.ProgressBar
			if len(args) > 1 {
				bar = newProgressBar(cmd.ErrOrStderr(), len(args))
			}

			for _, path := range args {
				report, err := extractFile(cmd.Context(), pipeline, path, asText, minParameters)
				if err != nil {
					return err
				}
				if err := enc.Encode(report); err != nil {
					return err
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&minParameters, "min-parameters", features.DefaultMinParameters, "minimum parameters needed to accept a report")
	cmd.Flags().BoolVar(&asText, "text", false, "treat inputs as recognized text instead of images")
	cmd.Flags().StringVar(&rangesFile, "ranges", "", "YAML file of normal-range overrides (env RANGES_FILE)")
	return cmd
}

func newPipeline(engine processor.Engine, rangesFile string) (*processor.Pipeline, error) {
	rangesFile = flagOrEnv(rangesFile, "RANGES_FILE", "")
	if rangesFile == "" {
		return processor.NewPipeline(engine), nil
	}
	ranges, err := processor.LoadRanges(rangesFile)
	if err != nil {
		return nil, err
	}
	return processor.NewPipeline(engine, processor.WithRanges(ranges)), nil
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("extracting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("reports"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func extractFile(ctx context.Context, pipeline *processor.Pipeline, path string, asText bool, minParameters int) (*extractReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	report := &extractReport{File: filepath.Base(path)}

	if asText {
		report.Outcome = pipeline.ProcessText(string(data))
	} else {
		img, mimeType, err := processor.DecodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		report.MimeType = mimeType
		report.Outcome = pipeline.Process(ctx, img)
	}

	if !report.Outcome.Success {
		return report, nil
	}

	vector, err := features.Accept(report.File, report.Outcome.Parameters.Map(), minParameters)
	report.vector = vector
	if err != nil {
		report.RejectReason = err.Error()
		return report, nil
	}
	report.Accepted = true
	report.Features = vector.Map()
	return report, nil
}
