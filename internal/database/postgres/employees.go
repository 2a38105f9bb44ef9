package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EmployeeRepository stores employees and their face encodings. The encoding
// is kept twice: as the opaque string that verification reads, and as a
// pgvector column for duplicate search.
type EmployeeRepository struct {
	pool *Pool
}

// NewEmployeeRepository creates a new PostgreSQL employee repository.
func NewEmployeeRepository(pool *Pool) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

const employeeColumns = `id, name, active, COALESCE(face_encoding, ''), enrolled_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(s rowScanner) (database.Employee, error) {
	var e database.Employee
	var enrolledAt sql.NullTime
	if err := s.Scan(&e.ID, &e.Name, &e.Active, &e.FaceEncoding, &enrolledAt, &e.CreatedAt); err != nil {
		return e, err
	}
	if enrolledAt.Valid {
		t := enrolledAt.Time
		e.EnrolledAt = &t
	}
	return e, nil
}

// GetEmployee retrieves an employee by ID.
func (r *EmployeeRepository) GetEmployee(ctx context.Context, id string) (*database.Employee, error) {
	e, err := scanEmployee(r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return &e, nil
}

// ListEmployees returns all employees ordered by ID.
func (r *EmployeeRepository) ListEmployees(ctx context.Context) ([]database.Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var out []database.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// SaveEmployee creates or updates an employee's name and active flag.
func (r *EmployeeRepository) SaveEmployee(ctx context.Context, e database.Employee) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO employees (id, name, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active, updated_at = NOW()
	`, e.ID, e.Name, e.Active)
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

// SetFaceEncoding replaces both encoding columns in one statement.
func (r *EmployeeRepository) SetFaceEncoding(ctx context.Context, id string, enc database.FaceEncoding) error {
	var (
		encoded    any
		vector     any
		enrolledAt any
	)
	if enc.Encoded != "" {
		encoded = enc.Encoded
		enrolledAt = time.Now().UTC()
		if len(enc.Vector) > 0 {
			vector = pgvector.NewVector(toFloat32(enc.Vector))
		}
	}

	res, err := r.pool.Exec(ctx, `
		UPDATE employees
		SET face_encoding = $2, face_vector = $3, enrolled_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, encoded, vector, enrolledAt)
	if err != nil {
		return fmt.Errorf("set face encoding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set face encoding: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// FindDuplicate searches other active employees with the pgvector L2 operator.
func (r *EmployeeRepository) FindDuplicate(ctx context.Context, employeeID string, vector []float64, maxDistance float64) (*database.Duplicate, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, face_vector <-> $2::vector AS distance
		FROM employees
		WHERE id <> $1 AND active AND face_vector IS NOT NULL
		  AND face_vector <-> $2::vector <= $3
		ORDER BY face_vector <-> $2::vector
		LIMIT 1
	`
	var d database.Duplicate
	err := r.pool.QueryRow(ctx, query, employeeID, pgvector.NewVector(toFloat32(vector)), maxDistance).
		Scan(&d.EmployeeID, &d.Distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate face: %w", err)
	}
	return &d, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
