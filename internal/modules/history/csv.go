package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ReadCSV parses daily prices from CSV with a header row. The date and close
// columns are required; open, high, low and volume are optional. Column names
// are matched case-insensitively and "adj close" is preferred over "close"
// when both are present.
func ReadCSV(r io.Reader) ([]DailyPrice, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("csv header has no date column")
	}
	closeCol, ok := cols["adj close"]
	if !ok {
		if closeCol, ok = cols["close"]; !ok {
			return nil, fmt.Errorf("csv header has no close column")
		}
	}

	var prices []DailyPrice
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date: %w", line, err)
		}
		closePrice, err := strconv.ParseFloat(strings.TrimSpace(record[closeCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid close: %w", line, err)
		}

		p := DailyPrice{Date: date.Format("2006-01-02"), Close: closePrice}
		p.Open = optionalFloat(record, cols, "open")
		p.High = optionalFloat(record, cols, "high")
		p.Low = optionalFloat(record, cols, "low")
		if i, ok := cols["volume"]; ok && i < len(record) {
			if v, err := strconv.ParseInt(strings.TrimSpace(record[i]), 10, 64); err == nil {
				p.Volume = &v
			}
		}
		prices = append(prices, p)
	}

	return prices, nil
}

func optionalFloat(record []string, cols map[string]int, name string) float64 {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
	if err != nil {
		return 0
	}
	return v
}
