package main

import (
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-chroma/configs"
	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/transcode"
)

var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Compute HCQT pitch features for a batch of audio files",
	Long: `Computes log-compressed HCQT features for every input, median-resampled
to the feature rate, and writes <output-dir>/<name>.npz holding f_pitch,
f_pitch_ax_time and f_pitch_ax_freq. Without arguments the inputs are the
files in --input-dir matching --pattern. Existing outputs are skipped unless
--overwrite is given.`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addBatchFlags(extractCmd, "output_dir", configs.DefaultOutputDir)
}

// addBatchFlags registers the flags shared by batch commands. --output-dir
// binds to outKey so each command keeps its own output directory.
func addBatchFlags(cmd *cobra.Command, outKey, outDefault string) {
	f := cmd.Flags()
	f.Float64("feature-rate", features.DefaultFeatureRate, "output frames per second")
	f.String("input-dir", ".", "directory scanned for inputs")
	f.String("pattern", "*.wav", "glob selecting inputs in --input-dir")
	f.StringP("output-dir", "o", outDefault, "directory for .npz outputs")
	_ = f.SetAnnotation("output-dir", configKeyAnnotation, []string{outKey})
	f.IntP("workers", "j", features.DefaultWorkers, "parallel workers")
	f.String("mode", string(features.ModeProduction), "DEVELOP (first input only) or PRODUCTION")
	f.Bool("overwrite", false, "recompute outputs that already exist")
	f.Bool("skip-completed", false, "skip inputs the ledger records as done, even if the output is gone")
	f.String("ledger-path", "sonido-chroma.sqlite3", "SQLite run ledger")
	f.String("report-path", "", "write a YAML run report here")
	f.String("empty-bin-policy", "fail", "what to do with empty resampling bins (fail, skip, zero)")
}

func newLoader(cfg *configs.Config, hcqt features.HCQTConfig) *transcode.AutoLoader {
	return &transcode.AutoLoader{
		WAV:    transcode.NewWAVLoader(hcqt.SampleRate),
		FFmpeg: transcode.NewDecoder(cfg.DecoderFor(hcqt.SampleRate)),
	}
}

func newExtractor(cfg *configs.Config, hcqt features.HCQTConfig, loader *transcode.AutoLoader) (*features.Extractor, error) {
	return features.NewExtractor(hcqt,
		features.WithLoader(loader),
		features.WithEmptyBinPolicy(cfg.BinPolicy()),
	)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loader := newLoader(cfg, cfg.HCQT)
	extractor, err := newExtractor(cfg, cfg.HCQT, loader)
	if err != nil {
		return err
	}
	return runBatch(cfg, batchSpec{
		command:   "extract",
		outDir:    cfg.OutputDir,
		loader:    loader,
		extractor: extractor,
	}, args)
}
