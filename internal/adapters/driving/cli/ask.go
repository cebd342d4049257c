package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

var (
	askTopK int
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieves the passages most similar to the question and asks the
configured generator to answer using only those passages.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of passages to retrieve (0 uses the configured default)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("%w: question is empty", domain.ErrInvalidInput)
	}
	if askTopK < 0 {
		return fmt.Errorf("%w: --top-k must not be negative", domain.ErrInvalidInput)
	}

	ctx := commandContext(cmd)

	a, err := openStack(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer closeStack(a)

	answer, err := a.Chat.Answer(ctx, query, domain.AnswerOptions{TopK: askTopK})
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if askJSON {
		return printJSON(cmd, answer)
	}

	cmd.Println(answer.Text)
	if len(answer.Documents) == 0 {
		return nil
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, doc := range answer.Documents {
		cmd.Printf("  [%d] %s #%d (%.3f)\n", i+1, doc.Source(), doc.SequenceIndex(), doc.Score)
	}
	return nil
}
