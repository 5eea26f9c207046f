package httpapi

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"wisefido-envsensor/internal/models"

	"github.com/sosodev/duration"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// parseWindow 窗口参数：分钟数或 ISO 8601 时长（PT15M）；空表示不限
func parseWindow(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.Inf(1), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid window %q", models.ErrQuery, s)
	}
	return d.ToTimeDuration().Minutes(), nil
}

// parseFloat 可选浮点参数
func parseFloat(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", models.ErrQuery, s)
	}
	return f, nil
}
