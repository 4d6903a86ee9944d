package genbench

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/providers/local"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Group commands for local model files",
	}

	var (
		family string
		seed   int64
	)
	synth := &cobra.Command{
		Use:   "synth DIR",
		Short: "Write a small randomly initialised model for smoke runs",
		Long: `Write model.bin and tokenizer.bin for a tiny model with random weights into DIR.
Point local_model_hub at the parent of DIR and list DIR's base name in repo_id
to benchmark the local backend without downloading weights.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"config": configNone},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if err := local.WriteRandom(dir, local.SyntheticConfig(), family, seed); err != nil {
				return err
			}
			logging.LogEvent("Wrote synthetic %s model to %s", family, dir)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n",
				filepath.Join(dir, local.DefaultCheckpointFile), filepath.Join(dir, local.DefaultTokenizerFile))
			return nil
		},
	}
	synth.Flags().StringVar(&family, "family", "llama", "checkpoint layout (llama or glm)")
	synth.Flags().Int64Var(&seed, "seed", 1, "weight initialisation seed")
	cmd.AddCommand(synth)
	return cmd
}
