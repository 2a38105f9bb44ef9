package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// ShiftReader looks up shifts in the scheduling table:
//
//	shifts(employee_id VARCHAR, shift_date DATE, start_time TIME, end_time TIME)
type ShiftReader struct {
	pool *Pool
}

// NewShiftReader creates a shift reader on pool.
func NewShiftReader(pool *Pool) *ShiftReader {
	return &ShiftReader{pool: pool}
}

// ShiftFor returns the employee's shift on the calendar day of day.
func (r *ShiftReader) ShiftFor(ctx context.Context, employeeID string, day time.Time) (database.ShiftWindow, bool, error) {
	var start, end string
	err := r.pool.db.QueryRowContext(ctx, `
		SELECT start_time, end_time
		FROM shifts
		WHERE employee_id = ? AND shift_date = ?
		ORDER BY start_time
		LIMIT 1
	`, employeeID, day.Format(database.DateLayout)).Scan(&start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ShiftWindow{}, false, nil
	}
	if err != nil {
		return database.ShiftWindow{}, false, fmt.Errorf("query shift: %w", err)
	}

	w, err := parseWindow(start, end)
	if err != nil {
		return database.ShiftWindow{}, false, err
	}
	return w, true, nil
}

func parseWindow(start, end string) (database.ShiftWindow, error) {
	s, err := parseTime(start)
	if err != nil {
		return database.ShiftWindow{}, fmt.Errorf("shift start: %w", err)
	}
	e, err := parseTime(end)
	if err != nil {
		return database.ShiftWindow{}, fmt.Errorf("shift end: %w", err)
	}
	return database.ShiftWindow{Start: s, End: e}, nil
}

// parseTime accepts MariaDB TIME values ("09:00:00", optionally with
// fractional seconds) and bare "09:00".
func parseTime(v string) (config.Clock, error) {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	t, err := time.Parse("15:04:05", v)
	if err != nil {
		return config.ParseClock(v)
	}
	return config.Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}
