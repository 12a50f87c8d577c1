package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/database"
	"github.com/dukerupert/boothsurvey/internal/export"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/store"
	"github.com/spf13/cobra"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var format, out, boothNumber, householdBooth string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write household records as csv, json or xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := store.NewRecordStore(db).List(store.RecordFilter{
				BoothNumber:    boothNumber,
				HouseholdBooth: householdBooth,
			})
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			if err := writeExport(w, export.NewFormatter(a.cfg.Location()), format, records); err != nil {
				return err
			}
			a.logger.Info("exported records", "count", len(records), "format", format)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv, json or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&boothNumber, "booth", "", "only records submitted for this booth")
	cmd.Flags().StringVar(&householdBooth, "household-booth", "", "only records whose household reported this booth")
	return cmd
}

func writeExport(w io.Writer, f *export.Formatter, format string, records []model.HouseholdRecord) error {
	switch strings.ToLower(format) {
	case "csv":
		_, err := io.WriteString(w, f.CSV(records))
		return err
	case "json":
		b, err := export.FormatJSON(records)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "xlsx":
		return f.XLSX(w, records)
	}
	return fmt.Errorf("unknown format %q: want csv, json or xlsx", format)
}

func (a *app) promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <phone>",
		Short: "Grant the admin role to the user with this phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, err := auth.NormalizePhone(args[0], a.cfg.Auth.CountryCode)
			if err != nil {
				return fmt.Errorf("%q: %w", args[0], err)
			}

			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			users := store.NewUserStore(db)
			user, err := users.GetByPhone(phone)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no user with phone %s, they must sign in once first", phone)
			}
			if err := users.SetRole(user.ID, model.RoleAdmin); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now an admin\n", user.DisplayName(), phone)
			return nil
		},
	}
}
