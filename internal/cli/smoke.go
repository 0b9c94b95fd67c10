package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
)

func (a *app) newSmokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke [text]",
		Short: "Send one embedding request and report what came back",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := "hello world"
			if len(args) == 1 {
				text = args[0]
			}
			provider, err := a.newProvider(a.cfg, true)
			if err != nil {
				return err
			}
			res := provider.Embed(cmd.Context(), []string{text})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider: %s / %s\n", provider.Name(), provider.Model())
			fmt.Fprintf(out, "status:   %s\n", res.Status)
			if res.HTTPStatus != 0 {
				fmt.Fprintf(out, "http:     %d\n", res.HTTPStatus)
			}
			if res.Status != embedding.StatusSuccess {
				return fmt.Errorf("smoke request failed: %w", res.Err)
			}
			dim := 0
			if len(res.Vectors) > 0 {
				dim = len(res.Vectors[0])
			}
			fmt.Fprintf(out, "tokens:   %d\n", res.TotalTokens)
			fmt.Fprintf(out, "vector:   %d dimensions\n", dim)
			if dim == 0 {
				return fmt.Errorf("smoke request returned no vector")
			}
			return nil
		},
	}
}
