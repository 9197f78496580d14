package handlers

import (
	"fmt"
	"strconv"
	"strings"
)

// CoverageLevel is one recognized signal-strength class. Levels outside the
// recognized set are reported as "other" and keep their raw dBm value.
type CoverageLevel struct {
	DBm   float64 `json:"dbm"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
}

var CoverageLevels = []CoverageLevel{
	{DBm: -85, Name: "high", Color: "#00FF00"},
	{DBm: -95, Name: "medium", Color: "#FFFF99"},
	{DBm: -105, Name: "low", Color: "#FFB3B3"},
}

const OtherLevelColor = "#808080"

// Selection metadata carried into artifact names and reports. These never
// influence the geometry.
var (
	Operators    = []string{"MOVISTAR", "CLARO", "CNT"}
	Technologies = []string{"2G", "3G", "4G"}
	Years        = []string{"2020", "2021", "2022", "2023", "2024"}
)

// DefaultLevel is the highest-severity recognized level.
func DefaultLevel() CoverageLevel {
	return CoverageLevels[0]
}

// ClassifyLevel maps a raw dBm value onto the taxonomy.
func ClassifyLevel(dbm float64) CoverageLevel {
	for _, level := range CoverageLevels {
		if level.DBm == dbm {
			return level
		}
	}
	return CoverageLevel{DBm: dbm, Name: "other", Color: OtherLevelColor}
}

// ParseLevel accepts "-85", "-85.0" or a level name ("high").
func ParseLevel(s string) (CoverageLevel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLevel(), nil
	}
	for _, level := range CoverageLevels {
		if strings.EqualFold(level.Name, s) {
			return level, nil
		}
	}
	dbm, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return CoverageLevel{}, fmt.Errorf("unrecognized coverage level %q", s)
	}
	return ClassifyLevel(dbm), nil
}

func ValidOperator(s string) bool {
	for _, op := range Operators {
		if strings.EqualFold(op, s) {
			return true
		}
	}
	return false
}

func ValidTechnology(s string) bool {
	for _, tech := range Technologies {
		if strings.EqualFold(tech, s) {
			return true
		}
	}
	return false
}

func ValidYear(s string) bool {
	for _, year := range Years {
		if year == s {
			return true
		}
	}
	return false
}
