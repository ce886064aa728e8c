// Package dataset reads bandit logs and contexts from CSV.
//
// A log row is "x1,...,xd,arm,reward" and a context row is "x1,...,xd".
// A first row in which no cell parses as a number is treated as a header.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Logs is a batch of logged interactions.
type Logs struct {
	X         *mat.Dense
	ChosenArm []int
	Reward    []float64
	Header    []string
}

// ErrEmpty is returned when the input holds no data rows.
var ErrEmpty = errors.New("no data rows")

func readRecords(r io.Reader) ([][]string, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, ErrEmpty
	}

	var header []string
	switch numericCells(records[0]) {
	case len(records[0]):
	case 0:
		header = records[0]
		records = records[1:]
	default:
		// Partly numeric first rows are malformed data, not a header.
		return nil, nil, parseRow(make([]float64, len(records[0])), records[0], 1)
	}
	if len(records) == 0 {
		return nil, nil, ErrEmpty
	}
	return records, header, nil
}

func numericCells(record []string) int {
	n := 0
	for _, cell := range record {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			n++
		}
	}
	return n
}

func parseRow(dst []float64, record []string, line int) error {
	for j, cell := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return fmt.Errorf("row %d, column %d: %w", line, j+1, err)
		}
		dst[j] = v
	}
	return nil
}

// ReadLogs parses logged interactions. The last two columns are the chosen
// arm (a non-negative integer) and the binary reward.
func ReadLogs(r io.Reader) (*Logs, error) {
	records, header, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	width := len(records[0])
	if width < 3 {
		return nil, fmt.Errorf("log rows need at least one feature, an arm and a reward, got %d columns", width)
	}
	dim := width - 2

	logs := &Logs{
		X:         mat.NewDense(len(records), dim, nil),
		ChosenArm: make([]int, len(records)),
		Reward:    make([]float64, len(records)),
		Header:    header,
	}

	row := make([]float64, width)
	for i, record := range records {
		if err := parseRow(row, record, i+1); err != nil {
			return nil, err
		}
		arm := row[dim]
		if arm < 0 || arm > math.MaxInt32 {
			return nil, fmt.Errorf("row %d: arm %v out of range", i+1, arm)
		}
		if arm != float64(int(arm)) {
			return nil, fmt.Errorf("row %d: arm %v is not an integer", i+1, arm)
		}
		logs.X.SetRow(i, row[:dim])
		logs.ChosenArm[i] = int(arm)
		logs.Reward[i] = row[dim+1]
	}
	return logs, nil
}

// ReadContexts parses a batch of context rows.
func ReadContexts(r io.Reader) (*mat.Dense, error) {
	records, _, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	X := mat.NewDense(len(records), len(records[0]), nil)
	row := make([]float64, len(records[0]))
	for i, record := range records {
		if err := parseRow(row, record, i+1); err != nil {
			return nil, err
		}
		X.SetRow(i, row)
	}
	return X, nil
}

// WriteArms writes one chosen arm per line.
func WriteArms(w io.Writer, arms []int) error {
	writer := csv.NewWriter(w)
	for _, arm := range arms {
		if err := writer.Write([]string{strconv.Itoa(arm)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
