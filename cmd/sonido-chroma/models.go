package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-chroma/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported model identifiers",
	Long: `Lists every supported model identifier and whether its weights bundle
is present in --model-dir.`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().String("model-dir", "models", "directory holding model_<id>.npz bundles")
}

func runModels(cmd *cobra.Command, args []string) error {
	dir := v.GetString("model_dir")
	out := cmd.OutOrStdout()

	for _, id := range model.IDs {
		path := model.BundlePath(dir, id)
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(out, "  %-28s (missing)\n", id)
			continue
		}
		fmt.Fprintf(out, "  %-28s %s\n", id, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}
