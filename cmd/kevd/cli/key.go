package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/kevd/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and deactivate the API keys used to authenticate against the kevd HTTP API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyDeactivateCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var appName string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Generate a new API key bound to an application name. The raw key is shown
once and cannot be retrieved again. When stdout is not a terminal only the raw
key is printed, so it can be captured by scripts.`,
		Example: `  kevd key create --app scanner
  KEY=$(kevd key create --app ci)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			raw, cred, err := service.NewAuthService(a.store).IssueKey(cmd.Context(), appName)
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			if !isTerminal(out) {
				fmt.Fprintln(out, raw)
				return nil
			}
			fmt.Fprintln(out, "API Key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:    %s\n", raw)
			fmt.Fprintf(out, "  App:    %s\n", cred.AppName)
			fmt.Fprintf(out, "  Prefix: %s\n", cred.KeyPrefix)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&appName, "app", "", "Application name the key is bound to (required)")
	cmd.MarkFlagRequired("app")

	return cmd
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			creds, err := service.NewAuthService(a.store).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(creds)
			}

			if len(creds) == 0 {
				fmt.Fprintln(out, "No API keys issued. Use 'kevd key create --app <name>' to create one.")
				return nil
			}

			fmt.Fprintf(out, "%-14s %-20s %-8s %-20s %-20s\n", "PREFIX", "APP", "ACTIVE", "CREATED", "LAST USED")
			fmt.Fprintf(out, "%-14s %-20s %-8s %-20s %-20s\n", "------", "---", "------", "-------", "---------")
			for _, c := range creds {
				active := "yes"
				if !c.IsActive {
					active = "no"
				}
				lastUsed := "never"
				if c.LastUsedAt != nil {
					lastUsed = c.LastUsedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%-14s %-20s %-8s %-20s %-20s\n",
					c.KeyPrefix, c.AppName, active, c.CreatedAt.Format("2006-01-02 15:04:05"), lastUsed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key deactivate ----------

func newKeyDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "deactivate <prefix>",
		Aliases: []string{"revoke"},
		Short:   "Deactivate an API key by its prefix",
		Long:    "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := service.NewAuthService(a.store).Deactivate(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deactivate api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated API key with prefix %q\n", args[0])
			return nil
		},
	}
}
