package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cmmsd/internal/app"
	"cmmsd/internal/maintenance"
	"cmmsd/internal/storage"
)

func newWorkOrderCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workorder",
		Aliases: []string{"wo", "workorders"},
		Short:   "Inspect generated work orders and move them through their lifecycle",
	}
	cmd.AddCommand(newWorkOrderListCmd(opts), newWorkOrderStatusCmd(opts))
	return cmd
}

type workOrderQuery struct {
	status    string
	schedule  int64
	dueBefore string
	limit     int
}

func (q workOrderQuery) filter() (storage.WorkOrderFilter, error) {
	f := storage.WorkOrderFilter{ScheduleID: q.schedule, Limit: q.limit}
	if q.status != "" {
		st, err := maintenance.ParseStatus(q.status)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if q.dueBefore != "" {
		d, err := maintenance.ParseDate(q.dueBefore)
		if err != nil {
			return f, err
		}
		f.DueBefore = &d
	}
	return f, nil
}

func newWorkOrderListCmd(opts *options) *cobra.Command {
	var (
		q      workOrderQuery
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := q.filter()
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()

			wos, err := st.ListWorkOrders(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), wos)
			}
			renderWorkOrders(cmd.OutOrStdout(), wos)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&q.status, "status", "", "open, in-progress, completed or cancelled")
	fl.Int64Var(&q.schedule, "schedule", 0, "only work orders of this schedule id")
	fl.StringVar(&q.dueBefore, "due-before", "", "only work orders due on or before YYYY-MM-DD")
	fl.IntVar(&q.limit, "limit", 100, "maximum rows (0 = no limit)")
	fl.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newWorkOrderStatusCmd(opts *options) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set a work order status",
		Long:  "Sets the status of a work order. Completing an order records the completion date (--date, default today).",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid work order id %q", args[0])
			}
			status, err := maintenance.ParseStatus(args[1])
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			at, err := app.Today(cfg)
			if err != nil {
				return err
			}
			if date != "" {
				if at, err = maintenance.ParseDate(date); err != nil {
					return err
				}
			}
			st, err := app.OpenStore(cfg, opts.logger())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetWorkOrderStatus(cmd.Context(), id, status, at); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "work order #%d is now %s\n", id, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "completion date YYYY-MM-DD")
	return cmd
}

func renderWorkOrders(w io.Writer, wos []maintenance.WorkOrder) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Schedule", "Title", "Priority", "Status", "Due", "Assigned", "Hours", "Reminded"})
	for _, wo := range wos {
		t.AppendRow(table.Row{
			wo.ID,
			wo.ScheduleID,
			wo.Title,
			wo.Priority,
			wo.Status,
			wo.DueDate,
			wo.Assignment.Kind(),
			wo.EstimatedHours.String(),
			wo.NotificationSent,
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d work orders", len(wos))})
	t.Render()
}
