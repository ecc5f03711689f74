package main

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"paymesh/internal/config"
	"paymesh/internal/domain"
	"paymesh/internal/infrastructure"
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func statsCmd(settings *config.ApplicationSettings) *cobra.Command {
	var period, from, to string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate payment statistics from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openStorage(ctx, settings)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			var window domain.StatsWindow
			if from != "" || to != "" {
				start, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				end, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				window, err = rt.stats.StatsBetween(ctx, start, end)
				if err != nil {
					return err
				}
			} else if window, err = rt.stats.Stats(ctx, domain.Period(period)); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), window)
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", string(domain.PeriodDay), "day, week, month or year")
	cmd.Flags().StringVar(&from, "from", "", "range start (RFC3339), used with --to")
	cmd.Flags().StringVar(&to, "to", "", "range end (RFC3339), used with --from")
	return cmd
}

func historyCmd(settings *config.ApplicationSettings) *cobra.Command {
	var (
		filter domain.AuditFilter
		status string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List audit log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = domain.Status(status)
			if status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			ctx := cmd.Context()
			rt, err := openStorage(ctx, settings)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			entries, err := rt.store.Query(ctx, filter)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []domain.AuditLogEntry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&filter.PaymentID, "payment", "", "payment id")
	cmd.Flags().StringVarP(&filter.GatewayID, "gateway", "g", "", "gateway id")
	cmd.Flags().StringVar(&filter.CustomerID, "customer", "", "customer id")
	cmd.Flags().StringVarP(&status, "status", "s", "", "pending, completed, failed or cancelled")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "maximum entries, 0 for all")
	return cmd
}

func convertCmd(settings *config.ApplicationSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "convert AMOUNT FROM TO",
		Short: "Convert an amount between currencies",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[0], err)
			}
			markets, err := loadMarkets(settings)
			if err != nil {
				return err
			}

			converted, err := markets.Convert(amount, args[1], args[2])
			if err != nil {
				return err
			}
			if precision, err := markets.Precision(args[2]); err == nil {
				converted = converted.Round(precision)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), converted.String())
			return err
		},
	}
}

func formatCmd(settings *config.ApplicationSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "format AMOUNT MARKET",
		Short: "Format an amount the way a market displays it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[0], err)
			}
			markets, err := loadMarkets(settings)
			if err != nil {
				return err
			}

			formatted, err := markets.Format(amount, args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), formatted)
			return err
		},
	}
}

func migrateCmd(settings *config.ApplicationSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQL schema for the configured storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st := settings.Storage

			switch st.Backend {
			case "sqlite":
				store, err := infrastructure.NewSQLiteAuditStore(st.SQLitePath)
				if err != nil {
					return err
				}
				defer store.Close()
			case "postgres":
				pool, err := infrastructure.NewPool(ctx, infrastructure.PoolConfig{URL: st.DatabaseURL, MaxConns: st.MaxConns})
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := infrastructure.MigratePostgres(ctx, pool); err != nil {
					return err
				}
			default:
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "storage backend %s has no schema\n", st.Backend)
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", st.Backend)
			return err
		},
	}
}
