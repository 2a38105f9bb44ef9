package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var employeeCmd = &cobra.Command{
	Use:   "employee",
	Short: "Manage employee records",
}

var employeeAddCmd = &cobra.Command{
	Use:   "add <employee-id> <name>",
	Short: "Create or update an employee",
	Long: `Create an employee or update the name and active flag of an existing one.
The enrolled face encoding is never changed by this command.

Examples:
  face-attendance employee add E1001 "Jana Novakova"
  face-attendance employee add E1001 "Jana Novakova" --inactive`,
	Args: cobra.ExactArgs(2),
	RunE: runEmployeeAdd,
}

var employeeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees and their enrollment state",
	Args:  cobra.NoArgs,
	RunE:  runEmployeeList,
}

func init() {
	rootCmd.AddCommand(employeeCmd)
	employeeCmd.AddCommand(employeeAddCmd)
	employeeCmd.AddCommand(employeeListCmd)

	employeeAddCmd.Flags().Bool("inactive", false, "Mark the employee as inactive")
}

func runEmployeeAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id := attendance.NormalizeEmployeeID(args[0])
	if id == "" {
		return errors.New("employee id must not be empty")
	}

	a, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	e := database.Employee{ID: id, Name: args[1], Active: !mustGetBool(cmd, "inactive")}
	if err := a.backend.Employees.SaveEmployee(ctx, e); err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	fmt.Printf("Employee %s saved (active: %t)\n", e.ID, e.Active)
	return nil
}

func runEmployeeList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	employees, err := a.backend.Employees.ListEmployees(ctx)
	if err != nil {
		return fmt.Errorf("failed to list employees: %w", err)
	}
	if len(employees) == 0 {
		fmt.Println("No employees found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tENROLLED")
	fmt.Fprintln(w, "--\t----\t------\t--------")
	for i := range employees {
		e := &employees[i]
		enrolled := "-"
		if e.Enrolled() && e.EnrolledAt != nil {
			enrolled = e.EnrolledAt.In(a.cfg.Location).Format("2006-01-02 15:04")
		} else if e.Enrolled() {
			enrolled = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", e.ID, e.Name, e.Active, enrolled)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d employees\n", len(employees))
	return nil
}
