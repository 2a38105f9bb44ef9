package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

var checkInCmd = &cobra.Command{
	Use:   "check-in <employee-id> <image>",
	Short: "Record a face-verified check-in",
	Long: `Verify a capture against the employee's enrolled face and record today's
check-in. The check-in is classified as present or late against the employee's
shift start plus the grace window.

Examples:
  face-attendance check-in E1001 capture.jpg
  face-attendance check-in E1001 capture.jpg --lat 50.0755 --lng 14.4378`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmission(cmd, args, (*attendance.Manager).SubmitCheckIn)
	},
}

var checkOutCmd = &cobra.Command{
	Use:   "check-out <employee-id> <image>",
	Short: "Record a face-verified check-out",
	Long: `Verify a capture against the employee's enrolled face and record today's
check-out, linked to the check-in, with the hours worked.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmission(cmd, args, (*attendance.Manager).SubmitCheckOut)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [employee-id]",
	Short: "Show today's attendance state",
	Long: `Show the attendance state of one employee for today, or the roster of every
employee with events on a date.

Examples:
  face-attendance status E1001
  face-attendance status --date 2026-03-16`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(checkInCmd)
	rootCmd.AddCommand(checkOutCmd)
	rootCmd.AddCommand(statusCmd)

	for _, c := range []*cobra.Command{checkInCmd, checkOutCmd} {
		c.Flags().Float64("lat", 0, "Latitude of the capture device")
		c.Flags().Float64("lng", 0, "Longitude of the capture device")
		c.Flags().String("notes", "", "Free-form note stored with the event")
		c.Flags().Bool("json", false, "Output as JSON")
	}
	statusCmd.Flags().String("date", "", "Work date (YYYY-MM-DD) for the roster, defaults to today")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

type submitMethod func(*attendance.Manager, context.Context, attendance.Submission) (*attendance.Receipt, error)

func runSubmission(cmd *cobra.Command, args []string, submit submitMethod) error {
	ctx := context.Background()

	loc, err := locationFlags(cmd)
	if err != nil {
		return err
	}
	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	receipt, err := submit(a.manager, ctx, attendance.Submission{
		EmployeeID: args[0],
		Image:      image,
		Location:   loc,
		Notes:      mustGetString(cmd, "notes"),
	})
	if err != nil {
		return printAttendanceError(err)
	}

	if mustGetBool(cmd, "json") {
		return printJSON(receipt)
	}

	ev := receipt.Event
	fmt.Printf("Recorded %s for %s at %s\n", ev.Type, ev.EmployeeID, ev.Timestamp.In(a.cfg.Location).Format(time.TimeOnly))
	fmt.Printf("  Status:     %s\n", ev.Status)
	fmt.Printf("  Confidence: %.2f%% (distance %.4f, threshold %.4f)\n",
		receipt.Verification.Confidence, receipt.Verification.Distance, receipt.Verification.Threshold)
	if ev.HoursWorked != nil {
		fmt.Printf("  Hours:      %.2f\n", *ev.HoursWorked)
	}
	if ev.AuditRef != "" {
		fmt.Printf("  Audit:      %s\n", ev.AuditRef)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asJSON := mustGetBool(cmd, "json")

	date := mustGetString(cmd, "date")
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
		}
	}

	a, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Status reads need no face models.
	m := attendance.NewManager(a.backend, nil, attendance.Options{Base: a.cfg.Verification, Location: a.cfg.Location})

	var days []attendance.DayStatus
	if len(args) == 1 {
		st, err := m.Today(ctx, args[0])
		if err != nil {
			return printAttendanceError(err)
		}
		days = append(days, *st)
	} else if days, err = m.Roster(ctx, date); err != nil {
		return err
	}

	if asJSON {
		return printJSON(days)
	}
	if len(days) == 0 {
		fmt.Println("No attendance recorded.")
		return nil
	}

	clock := func(st *attendance.DayStatus, out bool) string {
		ev := st.CheckIn
		if out {
			ev = st.CheckOut
		}
		if ev == nil {
			return "-"
		}
		return ev.Timestamp.In(a.cfg.Location).Format("15:04") + " " + string(ev.Status)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMPLOYEE\tDATE\tSTATE\tCHECK-IN\tCHECK-OUT\tHOURS")
	fmt.Fprintln(w, "--------\t----\t-----\t--------\t---------\t-----")
	for i := range days {
		st := &days[i]
		hours := "-"
		if st.HoursWorked != nil {
			hours = fmt.Sprintf("%.2f", *st.HoursWorked)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			st.EmployeeID, st.WorkDate, st.State, clock(st, false), clock(st, true), hours)
	}
	w.Flush()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
