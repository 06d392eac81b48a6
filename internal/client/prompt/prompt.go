// Package prompt reads measurements and confirmations interactively.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/glucosync/internal/models"
)

// PromptForMeasurement asks for a new reading. The id is generated and the
// timestamp is now. An empty type selects "random".
func PromptForMeasurement(in io.Reader, out io.Writer, now time.Time) (models.Measurement, error) {
	scanner := bufio.NewScanner(in)

	fmt.Fprint(out, "Enter glucose value (mg/dL): ")
	scanner.Scan()
	value, err := strconv.ParseFloat(strings.TrimSpace(scanner.Text()), 64)
	if err != nil {
		return models.Measurement{}, fmt.Errorf("invalid value: %w", err)
	}

	fmt.Fprintf(out, "Enter type (%s) [random]: ", typeList())
	scanner.Scan()
	typ := strings.TrimSpace(scanner.Text())
	if typ == "" {
		typ = string(models.Random)
	}

	fmt.Fprint(out, "Enter notes (optional): ")
	scanner.Scan()
	notes := strings.TrimSpace(scanner.Text())

	m := models.Measurement{
		ID:        uuid.NewString(),
		Value:     value,
		Type:      typ,
		Timestamp: now.UnixMilli(),
		Notes:     notes,
	}
	if err := m.ValidateEntry(); err != nil {
		return models.Measurement{}, err
	}
	return m, nil
}

// PromptEditMeasurement asks for new field values; an empty answer keeps the
// current one. Id and timestamp are preserved.
func PromptEditMeasurement(in io.Reader, out io.Writer, m models.Measurement) (models.Measurement, error) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintf(out, "Enter new value [%g]: ", m.Value)
	scanner.Scan()
	if s := strings.TrimSpace(scanner.Text()); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Measurement{}, fmt.Errorf("invalid value: %w", err)
		}
		m.Value = v
	}

	fmt.Fprintf(out, "Enter new type [%s]: ", m.Type)
	scanner.Scan()
	if s := strings.TrimSpace(scanner.Text()); s != "" {
		m.Type = s
	}

	fmt.Fprintf(out, "Enter new notes [%s]: ", m.Notes)
	scanner.Scan()
	if s := strings.TrimSpace(scanner.Text()); s != "" {
		m.Notes = s
	}

	if err := m.ValidateEntry(); err != nil {
		return models.Measurement{}, err
	}
	return m, nil
}

// Confirm asks a yes/no question. Only "y" or "yes" confirm.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "%s [y/N]: ", question)
	if !scanner.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func typeList() string {
	names := make([]string, len(models.MeasurementTypes))
	for i, t := range models.MeasurementTypes {
		names[i] = string(t)
	}
	return strings.Join(names, "/")
}
