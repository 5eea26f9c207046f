package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wisefido-envsensor/internal/export"
	"wisefido-envsensor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReadings() []models.Reading {
	return []models.Reading{
		models.Reading{
			ID:          "a",
			CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Temperature: 22.5,
			Humidity:    45,
			Pressure:    1013,
			AirQuality:  15,
		}.WithLocation(52.52, 13.405),
	}
}

func TestWriteExport_CSVFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "readings.csv")

	require.NoError(t, writeExport(sampleReadings(), "csv", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Time,Lat,Lng"))
	assert.Contains(t, lines[1], "52.52")
}

func TestWriteExport_Errors(t *testing.T) {
	dir := t.TempDir()

	assert.Error(t, writeExport(sampleReadings(), "csv", filepath.Join(dir, "missing", "out.csv")))
	assert.ErrorIs(t, writeExport(nil, "csv", filepath.Join(dir, "empty.csv")), export.ErrNoData)
	assert.Error(t, writeExport(sampleReadings(), "xlsx", ""))
	assert.Error(t, writeExport(sampleReadings(), "pdf", filepath.Join(dir, "out.pdf")))
}

func TestWriteExport_XLSXFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "readings.xlsx")

	require.NoError(t, writeExport(sampleReadings(), "xlsx", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "PK"))
}
