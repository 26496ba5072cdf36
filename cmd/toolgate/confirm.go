package main

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/huh"
)

// confirmFunc asks a human to approve prompt.
type confirmFunc func(ctx context.Context, prompt string) (bool, error)

// terminalConfirm prompts on stdin and draws on stderr, keeping stdout
// clean for the tool result.
func terminalConfirm(ctx context.Context, prompt string) (bool, error) {
	return huhConfirm(os.Stdin, os.Stderr)(ctx, prompt)
}

func huhConfirm(in io.Reader, out io.Writer) confirmFunc {
	return func(ctx context.Context, prompt string) (bool, error) {
		var approved bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(prompt).
				Affirmative("Approve").
				Negative("Reject").
				Value(&approved),
		)).WithInput(in).WithOutput(out)
		if err := form.RunWithContext(ctx); err != nil {
			return false, err
		}
		return approved, nil
	}
}
