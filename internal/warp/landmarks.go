package warp

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"roi-transfer/pkg/geometry"
)

// Landmark is a matched point pair: Moving in the moving image, Fixed in the
// fixed image.
type Landmark struct {
	Name   string
	Moving geometry.Point2D
	Fixed  geometry.Point2D
}

// ReadLandmarks reads a BigWarp landmarks CSV: name, active, moving x, moving y,
// fixed x, fixed y (8 columns for 3-D files, z ignored). Inactive rows and rows
// with a non-finite coordinate are skipped.
func ReadLandmarks(path string) ([]Landmark, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseLandmarks(f)
}

// ParseLandmarks parses landmarks CSV from r.
func ParseLandmarks(r io.Reader) ([]Landmark, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var out []Landmark
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		if len(rec) != 6 && len(rec) != 8 {
			return nil, fmt.Errorf("line %d: expected 6 or 8 fields, got %d", line, len(rec))
		}
		if !strings.EqualFold(strings.TrimSpace(rec[1]), "true") {
			continue
		}

		// 2-D: x y x y; 3-D: x y z x y z
		fixedAt := 4
		if len(rec) == 8 {
			fixedAt = 5
		}
		vals := make([]float64, 4)
		for i, idx := range []int{2, 3, fixedAt, fixedAt + 1} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vals[i] = v
		}

		lm := Landmark{
			Name:   rec[0],
			Moving: geometry.Point2D{X: vals[0], Y: vals[1]},
			Fixed:  geometry.Point2D{X: vals[2], Y: vals[3]},
		}
		if !lm.Moving.IsFinite() || !lm.Fixed.IsFinite() {
			continue
		}
		out = append(out, lm)
	}
	return out, nil
}
