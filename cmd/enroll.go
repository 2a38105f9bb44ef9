package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <employee-id> <image>",
	Short: "Enroll an employee's face from an image file",
	Long: `Encode the primary face in an image and store it as the employee's reference
encoding, replacing any previous one. Captures with no face, or with several
faces of similar size, are rejected and leave the previous enrollment intact.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <employee-id>",
	Short: "Remove an employee's face enrollment",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnenroll,
}

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <directory>",
	Short: "Enroll faces for many employees from a directory",
	Long: `Enroll every image in a directory. The file name without extension is the
employee ID, e.g. E1001.jpg enrolls employee E1001.

Examples:
  face-attendance enroll-dir ./portraits
  face-attendance enroll-dir ./portraits --concurrency 4`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unenrollCmd)
	rootCmd.AddCommand(enrollDirCmd)

	enrollDirCmd.Flags().Int("concurrency", constants.EnrollConcurrency, "Number of images enrolled in parallel")
}

var enrollImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	enrollment, err := a.manager.EnrollFace(ctx, args[0], image)
	if err != nil {
		return printAttendanceError(err)
	}
	a.saveIndex()

	fmt.Printf("Enrolled employee %s (%d-dimensional encoding)\n", enrollment.EmployeeID, enrollment.Dimension)
	return nil
}

func runUnenroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Removal needs no face models; the manager runs without a pipeline.
	m := attendance.NewManager(a.backend, nil, attendance.Options{Base: a.cfg.Verification, Location: a.cfg.Location})
	if err := m.RemoveEnrollment(ctx, args[0]); err != nil {
		return printAttendanceError(err)
	}

	if path := a.cfg.Database.EnrollmentIndexPath; path != "" {
		// A saved index would still hold the removed face.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: failed to invalidate enrollment index: %v\n", err)
		}
	}
	fmt.Printf("Enrollment removed for employee %s\n", attendance.NormalizeEmployeeID(args[0]))
	return nil
}

// enrollFiles lists image files in dir keyed by employee ID, sorted by ID.
func enrollFiles(dir string) ([]string, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read directory: %w", err)
	}

	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !enrollImageExts[ext] {
			continue
		}
		id := attendance.NormalizeEmployeeID(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		if id == "" {
			continue
		}
		files[id] = filepath.Join(dir, entry.Name())
	}

	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, files, nil
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	concurrency := max(1, mustGetInt(cmd, "concurrency"))

	ids, files, err := enrollFiles(args[0])
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No images found.")
		return nil
	}
	fmt.Printf("Images to enroll: %d\n\n", len(ids))

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount int
	var failures []string
	byCode := make(map[attendance.Code]int)
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer bar.Add(1)

			image, err := os.ReadFile(files[id])
			if err == nil {
				_, err = a.manager.EnrollFace(ctx, id, image)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", id, err))
				byCode[failureCode(err)]++
				return
			}
			successCount++
			if successCount%constants.IndexSaveInterval == 0 {
				a.saveIndex()
			}
		}(id)
	}

	wg.Wait()
	fmt.Println()
	a.saveIndex()

	sort.Strings(failures)
	for _, f := range failures {
		fmt.Printf("  failed %s\n", f)
	}
	fmt.Printf("\nCompleted: %d enrolled, %d errors\n", successCount, len(failures))
	for _, line := range failureSummary(byCode) {
		fmt.Printf("  %s\n", line)
	}
	return nil
}

// failureCode classifies an enrollment failure; errors outside the attendance
// taxonomy (unreadable files, storage) are counted as "other".
func failureCode(err error) attendance.Code {
	if code := attendance.CodeOf(err); code != "" {
		return code
	}
	return "other"
}

// failureSummary renders failure counts per code, sorted by code.
func failureSummary(byCode map[attendance.Code]int) []string {
	lines := make([]string, 0, len(byCode))
	for code, n := range byCode {
		lines = append(lines, fmt.Sprintf("%s: %d", code, n))
	}
	sort.Strings(lines)
	return lines
}
