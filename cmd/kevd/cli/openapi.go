package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/kevd/internal/catalog"
	"github.com/faucetdb/kevd/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document",
		Long: `Print the OpenAPI 3.1 document for the kevd HTTP API. The record schema is
derived from the columns of the loaded catalog table; before the first refresh
it has no properties.`,
		Example: `  kevd openapi
  kevd openapi -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cat := a.catalog()
			cols, err := cat.Columns(cmd.Context())
			if err != nil && !errors.Is(err, catalog.ErrNotLoaded) {
				return fmt.Errorf("read catalog columns: %w", err)
			}

			doc := openapi.Generate(openapi.Options{
				Version:                 versionString(),
				IDColumn:                cat.IDColumn(),
				VendorColumn:            cat.VendorColumn(),
				KeyIssuanceRequiresAuth: a.cfg.Auth.RequireKeyForIssuance,
			}, cols)

			raw, err := doc.MarshalJSON()
			if err != nil {
				return fmt.Errorf("render openapi: %w", err)
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return fmt.Errorf("render openapi: %w", err)
			}
			buf.WriteByte('\n')

			if outputFile != "" {
				if err := os.WriteFile(outputFile, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}
