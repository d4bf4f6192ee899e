package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-chroma/configs"
	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/logging"
	"github.com/RyanBlaney/sonido-chroma/model"
)

var applyCmd = &cobra.Command{
	Use:   "apply [files...]",
	Short: "Estimate chroma for a batch of audio files with a pretrained model",
	Long: `Computes HCQT features for every input, scores them with the model
selected by --model-id and writes <output-dir>/<name>.npz holding a (12, time)
chroma and its time axis. The model id is checked before any audio is read.

The features follow the convention the pretrained models were trained on,
which differs from extract: log magnitudes are clipped 80 dB below the
peak (--top-db) with a 1e-5 floor (--amin), and every pitch vector is scaled
to unit length (--normalization pitch). Outputs go to ./chroma by default so
they never collide with extract's ./features.`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	addBatchFlags(applyCmd, "apply.output_dir", configs.DefaultApplyOutputDir)
	addApplyFlags(applyCmd)
}

// addApplyFlags registers the scorer flags. The convention flags bind to
// the apply section of the config.
func addApplyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("model-id", "m", "", "model identifier (see `sonido-chroma models`)")
	f.String("model-dir", "models", "directory holding model_<id>.npz bundles")
	f.String("normalization", "pitch", "scorer input normalization (pitch, frame)")
	f.Float64("amin", configs.DefaultApplyAmin, "log magnitude floor")
	f.Float64("top-db", configs.DefaultApplyTopDB, "clip log magnitudes this far below the peak (0 disables)")

	for name, key := range map[string]string{
		"normalization": "apply.normalization",
		"amin":          "apply.amin",
		"top-db":        "apply.top_db",
	} {
		_ = f.SetAnnotation(name, configKeyAnnotation, []string{key})
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ModelID == "" {
		return fmt.Errorf("%w: --model-id is required", model.ErrUnknownModelID)
	}

	net, err := model.Load(cfg.ModelDir, cfg.ModelID)
	if err != nil {
		return err
	}
	logging.Info("Model loaded", logging.Fields{
		"model_id": cfg.ModelID,
		"path":     model.BundlePath(cfg.ModelDir, cfg.ModelID),
	})

	hcqt := cfg.ApplyHCQT()
	loader := newLoader(cfg, hcqt)
	extractor, err := newExtractor(cfg, hcqt, loader)
	if err != nil {
		return err
	}
	applier := model.NewApplier(extractor, net, cfg.FeatureRate, cfg.InputNormalization())

	return runBatch(cfg, batchSpec{
		command:   "apply",
		modelID:   cfg.ModelID,
		outDir:    cfg.Apply.OutputDir,
		loader:    loader,
		extractor: extractor,
		opts:      []features.BatchOption{features.WithTask(applier.Task)},
	}, args)
}
