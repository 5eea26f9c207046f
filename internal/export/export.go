package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/xuri/excelize/v2"
)

// ErrNoData 没有可导出的读数
var ErrNoData = errors.New("no readings to export")

// Header 导出表头
var Header = []string{
	"Time",
	"Lat",
	"Lng",
	"Temp (°C)",
	"Humidity (%)",
	"Pressure (hPa)",
	"Air Quality (IAQ)",
}

// SheetName XLSX 工作表名称
const SheetName = "Sensor Data"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// row 单条读数的文本列
func row(r models.Reading) []string {
	return []string{
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatCoord(r.Latitude),
		formatCoord(r.Longitude),
		formatFloat(r.Temperature),
		formatFloat(r.Humidity),
		formatFloat(r.Pressure),
		formatFloat(r.AirQuality),
	}
}

// WriteCSV 写出 CSV；空输入返回 ErrNoData
func WriteCSV(w io.Writer, readings []models.Reading) error {
	if len(readings) == 0 {
		return ErrNoData
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range readings {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// GenerateXLSX 生成 Excel 文件；空输入返回 ErrNoData
func GenerateXLSX(readings []models.Reading) ([]byte, error) {
	if len(readings) == 0 {
		return nil, ErrNoData
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(Header), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, r := range readings {
		values := []interface{}{
			r.CreatedAt.UTC().Format(time.RFC3339),
			nil,
			nil,
			r.Temperature,
			r.Humidity,
			r.Pressure,
			r.AirQuality,
		}
		if r.Latitude != nil {
			values[1] = *r.Latitude
		}
		if r.Longitude != nil {
			values[2] = *r.Longitude
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 26); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "B", "G", 16); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}
