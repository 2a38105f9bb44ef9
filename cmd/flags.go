package cmd

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetFloat64 gets a float64 flag value or panics if the flag doesn't exist.
func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// locationFlags reads --lat and --lng. Both must be set, or neither.
func locationFlags(cmd *cobra.Command) (*database.Location, error) {
	latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
	switch {
	case !latSet && !lngSet:
		return nil, nil
	case latSet != lngSet:
		return nil, fmt.Errorf("--lat and --lng must be given together")
	}
	return &database.Location{Lat: mustGetFloat64(cmd, "lat"), Lng: mustGetFloat64(cmd, "lng")}, nil
}

// parseBox parses "x0,y0,x1,y1" into a non-empty rectangle.
func parseBox(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid box %q: want x0,y0,x1,y1", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid box %q: %w", s, err)
		}
		v[i] = n
	}
	box := image.Rect(v[0], v[1], v[2], v[3])
	if box.Empty() {
		return image.Rectangle{}, fmt.Errorf("invalid box %q: empty region", s)
	}
	return box, nil
}
