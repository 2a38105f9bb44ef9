package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

// requestTimeout bounds non-streaming requests. Captures are bounded tighter
// by the pipeline's own budget.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	// Create handlers
	attendanceHandler := handlers.NewAttendanceHandler(s.manager)
	enrollmentHandler := handlers.NewEnrollmentHandler(s.manager)
	configHandler := handlers.NewConfigHandler(s.config, s.manager)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Event stream (long-lived, no request timeout)
		r.Get("/attendance/events", attendanceHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Attendance
			r.Post("/attendance/check-in", attendanceHandler.CheckIn)
			r.Post("/attendance/check-out", attendanceHandler.CheckOut)
			r.Get("/attendance", attendanceHandler.Roster)
			r.Get("/attendance/today/{employeeId}", attendanceHandler.Today)
			r.Get("/attendance/audit/{date}/{file}", attendanceHandler.AuditImage)

			// Enrollment
			r.Post("/employees/{employeeId}/face", enrollmentHandler.Enroll)
			r.Delete("/employees/{employeeId}/face", enrollmentHandler.Unenroll)

			// Settings
			r.Get("/config", configHandler.Get)
			r.Put("/settings", configHandler.UpdateSettings)
		})
	})
}
