package genbench

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newTokenizeCmd builds 'tokenize', which prints the token ids of a text.
func newTokenizeCmd(a *app) *cobra.Command {
	var (
		modelID string
		text    string
		noBOS   bool
	)
	cmd := &cobra.Command{
		Use:         "tokenize",
		Short:       "Print the token ids of a text for a model",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": configModel},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			model, err := newBackend(ctx, a.cfg, a.cfg.FindModel(modelID))
			if err != nil {
				return err
			}
			defer model.Close()

			ids, err := model.Tokenize(ctx, text, !noBOS)
			if err != nil {
				return err
			}
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprint(id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tokens: [%s]\n", len(ids), strings.Join(parts, " "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "model id from the config, or a repository id")
	cmd.Flags().StringVarP(&text, "text", "t", "", "text to tokenize")
	cmd.Flags().BoolVar(&noBOS, "no-bos", false, "do not prepend the beginning-of-sequence token")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
