package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sabcare/careline/internal/config"
	"github.com/sabcare/careline/internal/domain/ivr"
	"github.com/sabcare/careline/internal/platform/db"
	"github.com/sabcare/careline/internal/platform/textgen"
	"github.com/sabcare/careline/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				printf(cmd, "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				renderMigrations(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator only needs DATABASE_URL, so it skips Validate.
func withMigrator(ctx context.Context, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func renderMigrations(w io.Writer, statuses []db.MigrationStatus) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Version", "Name", "Status", "Applied At"})
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		tw.AppendRow(table.Row{s.Version, s.Name, status, appliedAt})
	}
	tw.Render()
}

func executorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Operate the call executor",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Deliver due calls once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.executor.Tick(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			renderTick(cmd.OutOrStdout(), res)
			return nil
		},
	})
	return cmd
}

func renderTick(w io.Writer, res ivr.TickResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Selected", "Executed", "Delivery Failures", "Update Failures", "Skipped"})
	tw.AppendRow(table.Row{res.Selected, res.Executed, res.DeliveryFailures, res.UpdateFailures, res.Skipped})
	tw.Render()
}

func callsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect the call log",
	}

	var limit int
	upcoming := &cobra.Command{
		Use:   "upcoming",
		Short: "List the next scheduled calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			calls, err := a.calls.ListUpcoming(cmd.Context(), time.Now(), limit)
			if err != nil {
				return err
			}
			renderCalls(cmd.OutOrStdout(), calls)
			return nil
		},
	}
	upcoming.Flags().IntVar(&limit, "limit", 10, "maximum number of calls to list")
	cmd.AddCommand(upcoming)
	return cmd
}

func renderCalls(w io.Writer, calls []*ivr.CallEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Patient", "Phone", "Type", "Scheduled (UTC)", "Medication"})
	for _, c := range calls {
		med := ""
		if c.MedicationName != nil {
			med = *c.MedicationName
		}
		tw.AppendRow(table.Row{c.ID, c.PatientName, c.PatientPhone, c.CallType, c.ScheduledTime.UTC().Format(time.RFC3339), med})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(calls)})
	tw.Render()
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Work with call schedules",
	}

	var profilePath, at string
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Compute a schedule from a YAML patient profile without saving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(profilePath)
			if err != nil {
				return err
			}
			defer f.Close()

			profile, err := loadProfile(f)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			gen := ivr.NewGenerator(nil, textgen.NewTemplateProvider(), nil, zerolog.Nop())
			renderSchedule(cmd.OutOrStdout(), gen.Plan(cmd.Context(), profile, now))
			return nil
		},
	}
	preview.Flags().StringVar(&profilePath, "profile", "", "path to a YAML patient profile")
	preview.Flags().StringVar(&at, "at", "", "generation time in RFC3339 (default now)")
	_ = preview.MarkFlagRequired("profile")
	cmd.AddCommand(preview)
	return cmd
}

// loadProfile decodes a patient profile. Unknown keys are rejected so typos
// do not silently drop medications.
func loadProfile(r io.Reader) (ivr.PatientProfile, error) {
	var p ivr.PatientProfile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode profile: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return p, fmt.Errorf("profile name is required")
	}
	p.RiskCategory = strings.ToLower(strings.TrimSpace(p.RiskCategory))
	if p.RiskCategory == "" {
		p.RiskCategory = ivr.RiskLow
	}
	return p, nil
}

func renderSchedule(w io.Writer, s *ivr.Schedule) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Type", "Scheduled (UTC)", "Medication", "Message"})
	for i, e := range s.Entries {
		med := ""
		if e.MedicationName != nil {
			med = *e.MedicationName
		}
		tw.AppendRow(table.Row{i + 1, e.CallType, e.ScheduledTime.UTC().Format(time.RFC3339), med, e.MessageText})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 60}})
	tw.Render()

	counts := s.CountByType()
	fmt.Fprintf(w, "%d entries (%d weekly check-ins, %d medication reminders, %d high-risk), %d skipped\n",
		len(s.Entries), counts[ivr.CallWeeklyCheckin], counts[ivr.CallMedicationReminder], counts[ivr.CallHighRiskMonitoring], s.Skipped)
}
