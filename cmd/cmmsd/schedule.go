package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cmmsd/internal/app"
	"cmmsd/internal/maintenance"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
)

func newScheduleCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules"},
		Short:   "Manage recurring maintenance schedules",
	}
	cmd.AddCommand(newScheduleAddCmd(opts), newScheduleListCmd(opts))
	return cmd
}

// scheduleInput is the raw flag set of "schedule add".
type scheduleInput struct {
	title       string
	description string
	equipment   int64
	priority    string
	hours       string
	craftsman   int64
	team        int64
	tools       []string
	spares      []string

	every      int
	unit       string
	start      string
	end        string
	notifyDays int
	recipients []string
}

// build turns the flags into a validated schedule and template. today is the
// default start date.
func (in scheduleInput) build(today maintenance.Date) (maintenance.Schedule, maintenance.Template, error) {
	var (
		s    maintenance.Schedule
		tpl  maintenance.Template
		err  error
		errs []error
	)
	if in.craftsman != 0 && in.team != 0 {
		errs = append(errs, errors.New("--craftsman and --team are mutually exclusive"))
	}

	s.Frequency = in.every
	s.NotifyDaysBefore = in.notifyDays
	if s.Unit, err = maintenance.ParseFrequencyUnit(in.unit); err != nil {
		errs = append(errs, err)
	}
	s.StartDate = today
	if in.start != "" {
		if s.StartDate, err = maintenance.ParseDate(in.start); err != nil {
			errs = append(errs, err)
		}
	}
	if in.end != "" {
		end, err := maintenance.ParseDate(in.end)
		if err != nil {
			errs = append(errs, err)
		} else {
			s.EndDate = &end
		}
	}
	for _, r := range in.recipients {
		if r = strings.TrimSpace(r); r != "" {
			s.Recipients = append(s.Recipients, r)
		}
	}

	tpl.Title = strings.TrimSpace(in.title)
	tpl.Description = strings.TrimSpace(in.description)
	if in.equipment != 0 {
		id := in.equipment
		tpl.EquipmentID = &id
	}
	if tpl.Priority, err = maintenance.ParsePriority(in.priority); err != nil {
		errs = append(errs, err)
	}
	if h := strings.TrimSpace(in.hours); h != "" {
		if tpl.EstimatedHours, err = decimal.NewFromString(h); err != nil {
			errs = append(errs, fmt.Errorf("--hours %q: %w", h, err))
		}
	}
	switch {
	case in.craftsman != 0:
		tpl.Assignment = maintenance.AssignCraftsman(in.craftsman)
	case in.team != 0:
		tpl.Assignment = maintenance.AssignTeam(in.team)
	}
	tpl.Tools = in.tools
	tpl.Spares = in.spares

	if err := errors.Join(errs...); err != nil {
		return s, tpl, err
	}
	if err := s.Validate(); err != nil {
		return s, tpl, err
	}
	return s, tpl, tpl.Validate()
}

func newScheduleAddCmd(opts *options) *cobra.Command {
	var in scheduleInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a schedule and its work order template",
		Example: `  cmmsd schedule add --title "Grease conveyor bearings" --every 2 --unit weeks \
    --start 2024-01-01 --priority high --hours 1.5 --team 3 --notify-days 2 \
    --recipient ops@example.com --recipient telegram:-1001234567890`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			today, err := app.Today(cfg)
			if err != nil {
				return err
			}
			s, tpl, err := in.build(today)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()

			s, tpl, err = st.CreateSchedule(cmd.Context(), s, tpl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule #%d created: %q %s from %s\n", s.ID, tpl.Title, s.Describe(), s.StartDate)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.title, "title", "", "work order title (required)")
	f.StringVar(&in.description, "description", "", "work order description")
	f.Int64Var(&in.equipment, "equipment", 0, "equipment id")
	f.StringVar(&in.priority, "priority", "medium", "low, medium, high or critical")
	f.StringVar(&in.hours, "hours", "", "estimated hours, decimal")
	f.Int64Var(&in.craftsman, "craftsman", 0, "assign to craftsman id")
	f.Int64Var(&in.team, "team", 0, "assign to team id")
	f.StringSliceVar(&in.tools, "tool", nil, "required tool (repeatable)")
	f.StringSliceVar(&in.spares, "spare", nil, "required spare part (repeatable)")
	f.IntVar(&in.every, "every", 1, "frequency: generate every N units")
	f.StringVar(&in.unit, "unit", "weeks", "days, weeks or months")
	f.StringVar(&in.start, "start", "", "first due date YYYY-MM-DD (default today)")
	f.StringVar(&in.end, "end", "", "last possible due date YYYY-MM-DD")
	f.IntVar(&in.notifyDays, "notify-days", 1, "remind this many days before the due date")
	f.StringArrayVar(&in.recipients, "recipient", nil, "notification recipient: email, telegram:<chat>[/<thread>] or log:<label> (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newScheduleListCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules with their next due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()

			today, err := app.Today(cfg)
			if err != nil {
				return err
			}
			rows, err := loadScheduleRows(cmd.Context(), st, today)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			renderSchedules(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type scheduleRow struct {
	Schedule maintenance.Schedule `json:"schedule"`
	Template maintenance.Template `json:"template"`
	NextDue  *maintenance.Date    `json:"next_due,omitempty"`
}

func loadScheduleRows(ctx context.Context, st storage.Store, today maintenance.Date) ([]scheduleRow, error) {
	ss, err := st.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]scheduleRow, 0, len(ss))
	for _, s := range ss {
		tpl, err := st.GetTemplate(ctx, s.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		row := scheduleRow{Schedule: s, Template: tpl}
		if next, err := recurrence.ComputeNextDueDate(s, today); err == nil {
			row.NextDue = &next
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderSchedules(w io.Writer, rows []scheduleRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Title", "Recurrence", "Start", "End", "Last", "Next", "Notify", "Recipients"})
	for _, r := range rows {
		s := r.Schedule
		t.AppendRow(table.Row{
			s.ID,
			r.Template.Title,
			s.Describe(),
			s.StartDate,
			optDate(s.EndDate),
			optDate(s.LastGenerated),
			optDate(r.NextDue),
			fmt.Sprintf("%dd", s.NotifyDaysBefore),
			strings.Join(s.Recipients, ", "),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d schedules", len(rows))})
	t.Render()
}

func optDate(d *maintenance.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
