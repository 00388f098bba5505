package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quiz-session-service/internal/domain"
)

// NewValidateCmd checks quiz documents against the import rules without a server.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate quiz JSON documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := validateFile(path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d quiz file(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = domain.DecodeQuiz(f)
	return err
}
