package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flemzord/toolgate/internal/mcpserver"
	"github.com/flemzord/toolgate/internal/tool"
)

func toolsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := flags.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			catalogue := rt.Registry.Catalogue()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tool.FunctionSpecs(catalogue))
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCOPE\tDESCRIPTION")
			for _, d := range catalogue {
				t, err := rt.Registry.Get(d.Name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, scopeLabel(t.Scopes()), firstSentence(d.Description))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print function-calling specs as JSON")
	return cmd
}

func callCmd(flags *globalFlags, confirm confirmFunc) *cobra.Command {
	var (
		yes  bool
		info string
	)
	cmd := &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Run one tool call through the approval gate",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			sess, _, err := rt.Store.Resolve("")
			if err != nil {
				return err
			}
			req := tool.Request{
				SessionKey: sess.Key,
				Tool:       args[0],
				Args:       json.RawMessage(raw),
				Info:       info,
			}

			ask := confirm
			if yes {
				ask = func(context.Context, string) (bool, error) { return true, nil }
			}
			out, err := dispatchWithApproval(cmd.Context(), rt.Gate, rt.Store, req, ask)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), tool.ResultText(out, err))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve the call without prompting")
	cmd.Flags().StringVar(&info, "info", "", "Context appended to the approval prompt")
	return cmd
}

// approver records an answer for a session's pending call.
type approver interface {
	SetApproval(key string, approved bool) error
}

// dispatchWithApproval runs req, asking once when the gate wants approval
// and re-dispatching with the answer recorded.
func dispatchWithApproval(ctx context.Context, gate *tool.Gate, store approver, req tool.Request, ask confirmFunc) (string, error) {
	out, err := gate.Dispatch(ctx, req)
	are, pending := tool.AsApprovalRequired(err)
	if !pending {
		return out, err
	}
	approved, err := ask(ctx, are.Message)
	if err != nil {
		return "", fmt.Errorf("asking for approval: %w", err)
	}
	if err := store.SetApproval(req.SessionKey, approved); err != nil {
		return "", err
	}
	return gate.Dispatch(ctx, req)
}

func mcpCmd(flags *globalFlags) *cobra.Command {
	var tty bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool catalogue as an MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := flags.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			var approve mcpserver.ApproveFunc
			if tty {
				term, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
				if err != nil {
					return fmt.Errorf("opening terminal for approvals: %w", err)
				}
				defer term.Close()
				confirm := huhConfirm(term, term)
				approve = func(ctx context.Context, _ string, prompt string) (bool, error) {
					return confirm(ctx, prompt)
				}
			}

			srv, err := mcpserver.New(mcpserver.Config{
				Version: version,
				Gate:    rt.Gate,
				Store:   rt.Store,
				Approve: approve,
				Logger:  rt.Logger,
			})
			if err != nil {
				return err
			}
			err = srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&tty, "tty", false, "Ask for approvals on the controlling terminal")
	return cmd
}

func scopeLabel(scopes []tool.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}
