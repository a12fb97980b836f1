package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"donations/internal/core"
	"donations/internal/spreadsheet"
)

func newLoadCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Resolve the dataset through the source chain and report where it came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			ds, src := svc.Store.LoadWithSource(cmd.Context())
			if asJSON {
				body, err := core.EncodeDataset(ds)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(a.out, string(body))
				return err
			}
			if src == "" {
				src = "empty"
			}
			fmt.Fprintf(a.out, "source:    %s\n", src)
			fmt.Fprintf(a.out, "buckets:   %d\n", len(ds))
			fmt.Fprintf(a.out, "donations: %d\n", ds.Count())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the dataset document instead of a summary")
	return cmd
}

func newYearsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "years",
		Short: "List the years present in the dataset, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			for _, y := range core.AvailableYears(svc.Store.Load(cmd.Context())) {
				fmt.Fprintln(a.out, y)
			}
			return nil
		},
	}
}

func newTotalsCmd(a *app) *cobra.Command {
	var months bool
	cmd := &cobra.Command{
		Use:   "totals [year...]",
		Short: "Print per-year totals and their sum; defaults to every available year",
		RunE: func(cmd *cobra.Command, args []string) error {
			years := make([]int, 0, len(args))
			for _, arg := range args {
				y, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("%w: %q", core.ErrInvalidYear, arg)
				}
				years = append(years, y)
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			ds := svc.Store.Load(cmd.Context())
			if len(years) == 0 {
				years = core.AvailableYears(ds)
			}
			for _, y := range years {
				if !months {
					fmt.Fprintf(a.out, "%d\t%s\n", y, core.YearTotal(ds, y))
					continue
				}
				summary := core.SummarizeYear(ds, y)
				fmt.Fprintf(a.out, "%d\t%s\n", y, summary.Total)
				for _, m := range summary.Months {
					if len(m.Donations) == 0 {
						continue
					}
					fmt.Fprintf(a.out, "  %-9s\t%s\t(%d)\n", m.Month, m.Total, len(m.Donations))
				}
			}
			fmt.Fprintf(a.out, "total\t%s\n", core.AllYearsTotal(ds, years))
			return nil
		},
	}
	cmd.Flags().BoolVar(&months, "months", false, "Break each year down by month")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var (
		year   int
		month  string
		name   string
		amount string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a donation and save the dataset locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := core.ParseMonth(month)
			if err != nil {
				return &core.ValidationError{Field: "month", Err: err}
			}
			money, err := core.ParseAmount(amount)
			if err != nil {
				return err
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			ds := svc.Store.Load(cmd.Context())
			next, err := svc.Store.Add(cmd.Context(), ds, year, m, core.Donation{Name: name, Amount: money})
			if err != nil {
				return err
			}
			bucket := next.Bucket(year, m)
			added := bucket[len(bucket)-1]
			fmt.Fprintf(a.out, "added %s %s to %d-%s; month total %s, year total %s\n",
				added.Name, added.Amount, year, m, core.MonthTotal(next, year, m), core.YearTotal(next, year))
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Four-digit year")
	cmd.Flags().StringVar(&month, "month", "", "Month name or number")
	cmd.Flags().StringVar(&name, "name", "", "Donor name")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount, e.g. 12.50 or 12,50")
	for _, f := range []string{"year", "month", "name", "amount"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import donations from an xlsx or CSV file (Year, Month, Donor Name, Donation Amount)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := spreadsheet.FormatFromName(args[0]); err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			imported, report, err := spreadsheet.Read(f)
			if err != nil {
				return err
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			next := imported
			if !replace {
				next = core.Merge(svc.Store.Load(cmd.Context()), imported)
			}
			if err := svc.Store.Save(cmd.Context(), next); err != nil {
				return err
			}
			for _, sk := range report.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped line %d: %s\n", sk.Line, sk.Reason)
			}
			fmt.Fprintf(a.out, "imported %d of %d rows; dataset now has %d donations\n",
				report.Imported, report.Rows, next.Count())
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the dataset instead of merging into it")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export the dataset as xlsx or CSV to FILE or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputFormat(format, args)
			if err != nil {
				return err
			}
			svc, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			ds := svc.Store.Load(cmd.Context())
			return writeTo(a.out, args, func(w io.Writer) error { return spreadsheet.Write(w, ds, f) })
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "csv or xlsx (default: from FILE extension, csv on stdout)")
	return cmd
}

func newTemplateCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "template [FILE]",
		Short: "Write the import template as xlsx or CSV to FILE or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := outputFormat(format, args)
			if err != nil {
				return err
			}
			return writeTo(a.out, args, func(w io.Writer) error { return spreadsheet.WriteTemplateAs(w, f) })
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "csv or xlsx (default: from FILE extension, csv on stdout)")
	return cmd
}

// outputFormat resolves --format, falling back to the output file's extension.
func outputFormat(flag string, args []string) (spreadsheet.Format, error) {
	if flag != "" {
		return spreadsheet.ParseFormat(flag)
	}
	if len(args) == 0 {
		return spreadsheet.FormatCSV, nil
	}
	return spreadsheet.FormatFromName(args[0])
}

// writeTo runs write against the file named by args, or stdout when there is none.
func writeTo(stdout io.Writer, args []string, write func(io.Writer) error) error {
	if len(args) == 0 {
		return write(stdout)
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
