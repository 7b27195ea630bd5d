package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trade-export/internal/domain"
)

func newExportCmd(rt *runtime) *cobra.Command {
	var (
		identity string
		query    string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run an export locally and print or copy the artifact",
		Long: `Runs one export through the same job cache as the server.

The query is a JSON object with the server's request fields. Pass it inline,
as @path to read a file, or as - to read standard input.`,
		Example: `  tradeq export --identity alice --query '{"exchanges":["Nasdaq"],"sortby":"priceasc"}'
  tradeq export --identity alice --query @query.json --out trades.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readQuerySpec(query, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			res, err := a.Jobs.Submit(cmd.Context(), identity, spec)
			if err != nil {
				return err
			}

			if out != "" {
				if err := copyArtifact(res.Path, out, cmd.OutOrStdout()); err != nil {
					return err
				}
				if out == "-" {
					return nil
				}
			}

			w := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(w, map[string]any{
					"signature":         res.Signature,
					"filename":          res.Filename,
					"filepath":          res.Path,
					"cached":            res.Cached,
					"rows":              res.Rows,
					"download_url":      res.DownloadURL,
					"unknown_exchanges": res.UnknownExchanges,
				})
			}
			printKV(w,
				"signature", res.Signature,
				"file", res.Path,
				"cached", res.Cached,
				"rows", res.Rows,
			)
			if res.DownloadURL != "" {
				printKV(w, "download url", res.DownloadURL)
			}
			if len(res.UnknownExchanges) > 0 {
				printKV(w, "unknown exchanges", strings.Join(res.UnknownExchanges, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Identity the export runs as (required)")
	cmd.Flags().StringVar(&query, "query", "{}", "Query JSON, @file, or - for stdin")
	cmd.Flags().StringVar(&out, "out", "", "Copy the artifact to this path (- for stdout)")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func readQuerySpec(arg string, stdin io.Reader) (domain.QuerySpec, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@")) //nolint:gosec // operator-supplied path
	default:
		data = []byte(arg)
	}
	if err != nil {
		return domain.QuerySpec{}, fmt.Errorf("read query: %w", err)
	}

	var spec domain.QuerySpec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return domain.QuerySpec{}, domain.ErrValidation("invalid query JSON: %v", err)
	}
	return spec, nil
}

func copyArtifact(src, dst string, stdout io.Writer) (err error) {
	in, err := os.Open(src) //nolint:gosec // path comes from the retention manager
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close() //nolint:errcheck

	if dst == "-" {
		_, err = io.Copy(stdout, in)
		return err
	}
	f, err := os.Create(dst) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(f, in)
	return err
}
