package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tiltwatch-sync/internal/models"
)

// HistoryHeader 历史数据导出表头（CSV 与 XLSX 共用）
var HistoryHeader = []string{"Timestamp", "RSSI", "VBAT", "Tilt Angle", "Tilt X", "Tilt Y"}

// FormatCSV 把历史序列导出为 CSV
// 仪表盘约定的裸格式：逗号拼接、不转义、无结尾换行
// （字段只有数值和时间戳，不会出现内嵌逗号）
func FormatCSV(points []models.HistoryPoint) []byte {
	lines := make([]string, 0, len(points)+1)
	lines = append(lines, strings.Join(HistoryHeader, ","))

	for _, p := range points {
		lines = append(lines, strings.Join([]string{
			p.Timestamp,
			formatFloat(p.RSSI),
			formatFloat(p.VBat),
			formatFloat(p.TiltAngle),
			formatFloat(p.TiltAngleX),
			formatFloat(p.TiltAngleY),
		}, ","))
	}

	return []byte(strings.Join(lines, "\n"))
}

// Filename 导出文件名：{serial}_{yyyyMMdd}.csv
func Filename(serial string, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", serial, now.Format("20060102"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatXLSX 把历史序列导出为 Excel 工作簿
// sheet 以设备序列号命名，表头加粗并冻结首行
func FormatXLSX(serial string, points []models.HistoryPoint) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := serial
	if sheetName == "" {
		sheetName = "History"
	}
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, title := range HistoryHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to build header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to style header: %w", err)
		}
	}

	for row, p := range points {
		values := []any{p.Timestamp, p.RSSI, p.VBat, p.TiltAngle, p.TiltAngleX, p.TiltAngleY}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write cell: %w", err)
			}
		}
	}

	// 冻结表头行
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze header row: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
