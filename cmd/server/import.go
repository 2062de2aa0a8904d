package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/PatientImport/internal/core"
	"github.com/JonMunkholm/PatientImport/internal/mapping"
	"github.com/JonMunkholm/PatientImport/internal/store"
)

type importOptions struct {
	userID    string
	name      string
	ensure    bool
	overrides []string
	errorsOut string
	quiet     bool
}

func importCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV export for one practitioner without the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "Auth user ID the practitioner profile is linked to (required)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Practitioner display name used with --create-practitioner")
	cmd.Flags().BoolVar(&opts.ensure, "create-practitioner", false, "Create the practitioner profile when missing")
	cmd.Flags().StringArrayVar(&opts.overrides, "map", nil, "Override a column mapping as COLUMN=FIELD (repeatable)")
	cmd.Flags().StringVar(&opts.errorsOut, "errors", "", "Write failed rows to this CSV file")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print progress")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runImport(ctx context.Context, out io.Writer, path string, opts importOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	stores := store.New(e.pool)
	if opts.ensure {
		resolver := store.NewPractitionerResolver(e.pool)
		if _, err := resolver.EnsurePractitioner(ctx, opts.userID, opts.name); err != nil {
			return err
		}
	}

	svc := core.NewService(stores, serviceOptions(e.cfg.Import))
	userCtx := core.ContextWithUserID(ctx, opts.userID)
	view, err := svc.CreateSession(userCtx, path, data)
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}

	for _, o := range opts.overrides {
		col, key, err := parseOverride(o, view.Columns)
		if err != nil {
			return err
		}
		if view, err = svc.AssignField(userCtx, view.ID, col, key); err != nil {
			return err
		}
	}
	printMapping(out, view)

	if err := svc.StartImport(userCtx, view.ID); err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}

	// Runs outlive their starting context, so an interrupt cancels explicitly.
	stop := context.AfterFunc(ctx, func() { svc.CancelImport(context.WithoutCancel(userCtx), view.ID) })
	defer stop()

	progress, err := svc.SubscribeProgress(userCtx, view.ID)
	if err != nil {
		return err
	}
	for p := range progress {
		if !opts.quiet && p.Phase == core.PhaseImporting {
			fmt.Fprintf(out, "\r%3d%%  row %d/%d  patients %d  consultations %d  errors %d",
				p.Percent, p.CurrentRow, p.TotalRows, p.PatientsImported, p.ConsultationsImported, p.Errors)
		}
	}
	if !opts.quiet {
		fmt.Fprintln(out)
	}

	ctx = context.WithoutCancel(userCtx)
	result, err := svc.GetResult(ctx, view.ID)
	if err != nil {
		return err
	}
	printResult(out, result)

	if opts.errorsOut != "" && len(result.Errors) > 0 {
		headers, failed, err := svc.FailedRows(ctx, view.ID)
		if err != nil {
			return err
		}
		if err := writeFailedRows(opts.errorsOut, headers, failed); err != nil {
			return err
		}
		fmt.Fprintf(out, "failed rows written to %s\n", opts.errorsOut)
	}

	if result.Cancelled {
		return errors.New("import cancelled")
	}
	return nil
}

// parseOverride reads COLUMN=FIELD where COLUMN is a 0-based index or a
// header name.
func parseOverride(s string, cols []core.ColumnView) (int, mapping.FieldKey, error) {
	left, right, ok := strings.Cut(s, "=")
	if !ok {
		return 0, "", fmt.Errorf("invalid --map %q: want COLUMN=FIELD", s)
	}
	key, err := mapping.ParseFieldKey(strings.TrimSpace(right))
	if err != nil {
		return 0, "", fmt.Errorf("invalid --map %q: %w", s, err)
	}

	left = strings.TrimSpace(left)
	if n, err := strconv.Atoi(left); err == nil {
		return n, key, nil
	}
	for _, c := range cols {
		if strings.EqualFold(strings.TrimSpace(c.Header), left) {
			return c.Index, key, nil
		}
	}
	return 0, "", fmt.Errorf("invalid --map %q: no column %q", s, left)
}

func printMapping(out io.Writer, view core.SessionView) {
	fmt.Fprintf(out, "file: %s  delimiter: %q  rows: %d\n", view.FileName, view.Delimiter, view.TotalRows)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tHEADER\tFIELD")
	for _, c := range view.Columns {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", c.Index, c.Header, c.Field)
	}
	tw.Flush()

	if view.MappingErr != "" {
		fmt.Fprintf(out, "mapping: %s\n", view.MappingErr)
	}
}

func printResult(out io.Writer, r *core.ImportResult) {
	fmt.Fprintf(out, "rows: %d  patients created: %d  reused: %d  consultations: %d  skipped: %d  errors: %d  (%s)\n",
		r.Total, r.PatientsImported, r.PatientsReused, r.ConsultationsImported, r.Skipped, len(r.Errors), r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  line %d [%s] %s\n", e.Row, e.Kind, e.Message)
	}
}

func writeFailedRows(path string, headers []string, failed []core.FailedRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write(append([]string{"_line", "_kind", "_error"}, headers...))
	for _, row := range failed {
		w.Write(append([]string{strconv.Itoa(row.Row), string(row.Kind), row.Message}, row.Cells...))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func inspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <file.csv>",
		Short: "Show the detected delimiter, headers and column mapping of a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return inspect(cmd.OutOrStdout(), args[0], data, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session view as JSON")
	return cmd
}

func inspect(out io.Writer, name string, data []byte, asJSON bool) error {
	sess, err := core.NewImportSession(name, data, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}
	view := sess.View()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printMapping(out, view)
	return nil
}
