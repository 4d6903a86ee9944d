// internal/cli/generate.go
package genbench

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/genbench/internal/generation"
	"github.com/mwiater/genbench/internal/logging"
)

// samplingFlags mirrors the generation options exposed on the command line.
type samplingFlags struct {
	maxNewTokens      int
	topK              int
	topP              float64
	temperature       float64
	repetitionPenalty float64
	seed              int64
	greedy            bool
	keepCache         bool
	stop              []string
}

func (f *samplingFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&f.maxNewTokens, "max-new-tokens", generation.DefaultMaxNewTokens, "maximum number of new tokens (one extra is accepted)")
	fl.IntVar(&f.topK, "top-k", generation.DefaultTopK, "top-k sampling cutoff")
	fl.Float64Var(&f.topP, "top-p", generation.DefaultTopP, "nucleus sampling threshold")
	fl.Float64Var(&f.temperature, "temperature", generation.DefaultTemperature, "sampling temperature, 0 for greedy")
	fl.Float64Var(&f.repetitionPenalty, "repetition-penalty", generation.DefaultRepetitionPenalty, "penalty for repeated tokens")
	fl.Int64Var(&f.seed, "seed", 0, "sampler seed, 0 for time-seeded")
	fl.BoolVar(&f.greedy, "greedy", false, "greedy decoding (overrides the sampling flags)")
	fl.BoolVar(&f.keepCache, "keep-cache", false, "reuse the KV cache of the previous call")
	fl.StringSliceVar(&f.stop, "stop", nil, "stop strings (forwarded but not interpreted)")
}

func (f *samplingFlags) config() generation.Config {
	opts := []generation.Option{
		generation.WithMaxNewTokens(f.maxNewTokens),
		generation.WithTopK(f.topK),
		generation.WithTopP(f.topP),
		generation.WithTemperature(f.temperature),
		generation.WithRepetitionPenalty(f.repetitionPenalty),
		generation.WithSeed(f.seed),
		generation.WithReset(!f.keepCache),
		generation.WithStop(f.stop...),
	}
	if f.greedy {
		opts = append(opts, generation.Greedy())
	}
	return generation.NewConfig(opts...)
}

// newGenerateCmd builds 'generate', a single timed generation call.
func newGenerateCmd(a *app) *cobra.Command {
	var (
		modelID string
		prompt  string
		flags   samplingFlags
	)
	cmd := &cobra.Command{
		Use:         "generate",
		Short:       "Generate text from a prompt and report its latency",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": configModel},
		RunE: func(cmd *cobra.Command, args []string) error {
			genCfg := flags.config()
			if err := genCfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			model, err := newBackend(ctx, a.cfg, a.cfg.FindModel(modelID))
			if err != nil {
				return err
			}
			defer model.Close()

			inputs, err := model.Tokenize(ctx, prompt, true)
			if err != nil {
				return err
			}
			st := now()
			out, err := model.Generate(ctx, inputs, genCfg)
			if err != nil {
				return err
			}
			elapsed := now().Sub(st)
			text, err := model.Decode(ctx, out)
			if err != nil {
				return err
			}
			logging.Debugf("model generate cost: %s", elapsed)

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, text)
			fmt.Fprintf(w, "\n%d prompt tokens, %d generated in %.4fs\n", len(inputs), len(out), elapsed.Seconds())
			if rec, ok := model.LastLatency(); ok {
				fmt.Fprintf(w, "1st token: %.4fs  2+: %.4fs/token  encoder: %.4fs\n",
					rec.FirstCost.Seconds(), rec.RestCostMean.Seconds(), rec.EncoderTime.Seconds())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "model id from the config, or a repository id")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt text")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("prompt")
	flags.register(cmd)
	return cmd
}
