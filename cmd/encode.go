package cmd

import (
	"fmt"

	"github.com/andresmejia3/facescan/internal/face"
	"github.com/andresmejia3/facescan/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startEngines launches the detector pool. Replaced in tests.
var startEngines = worker.StartPool

var extractCmd = &cobra.Command{
	Use:   "extract-encoding <image>",
	Short: "Print the face embedding of the first face in an image",
	Args:  exactArgs(1),
	Annotations: map[string]string{
		annotationJSON: "true",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, imagePath string) error {
	ctx := cmd.Context()

	engines, err := startEngines(ctx, 1, worker.ConfigFrom(Cfg))
	if err != nil {
		return fmt.Errorf("failed to start face engine: %w", err)
	}
	defer worker.ClosePool(engines)

	enc := face.NewEncoder(engines[0], Cfg.Matching.EmbeddingDim, Cfg.Matching.MaxImageDim, Logger)
	vec, err := enc.ExtractFile(ctx, imagePath)
	if err != nil {
		return err
	}

	Logger.Debug("extracted encoding", zap.String("image", imagePath), zap.Int("dim", len(vec)))
	return writeJSON(cmd.OutOrStdout(), encodingResponse{Success: true, Encoding: vec})
}
