package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wisefido-envsensor/internal/export"
	"wisefido-envsensor/internal/models"
	"wisefido-envsensor/internal/service"

	"go.uber.org/zap"
)

// LinkController 链路控制
type LinkController interface {
	LinkState() string
	StartLink() error
	StopLink() error
}

// SensorHandler 读数查询、导出与链路控制
type SensorHandler struct {
	query  *service.QueryService
	link   LinkController
	logger *zap.Logger
}

func NewSensorHandler(query *service.QueryService, link LinkController, logger *zap.Logger) *SensorHandler {
	return &SensorHandler{query: query, link: link, logger: logger}
}

// fail 查询参数错误返回 400，其它返回 500
func (h *SensorHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrQuery):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	case errors.Is(err, export.ErrNoData):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	default:
		h.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

// windowed 按 window 参数取读数（新到旧）
func (h *SensorHandler) windowed(r *http.Request) ([]models.Reading, error) {
	minutes, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		return nil, err
	}
	return h.query.Window(minutes)
}

// Latest GET /readings/latest
func (h *SensorHandler) Latest(w http.ResponseWriter, r *http.Request) {
	reading, ok := h.query.Latest(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "awaiting_sensor"}))
		return
	}
	writeJSON(w, http.StatusOK, Ok(reading))
}

// Readings GET /readings?window=&limit=
func (h *SensorHandler) Readings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.windowed(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if limit := parseInt(r.URL.Query().Get("limit"), 0); limit > 0 && len(readings) > limit {
		readings = readings[:limit]
	}
	writeJSON(w, http.StatusOK, Ok(readings))
}

// Session GET /session?gap=&max=
func (h *SensorHandler) Session(w http.ResponseWriter, r *http.Request) {
	gap, err := parseFloat(r.URL.Query().Get("gap"), 0)
	if err != nil {
		h.fail(w, err)
		return
	}
	path, err := h.query.SessionPath(gap, parseInt(r.URL.Query().Get("max"), 0))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(path))
}

// Stats GET /stats?metric=&window=
func (h *SensorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	readings, err := h.windowed(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		writeJSON(w, http.StatusOK, Ok(h.query.Summarize(readings).Summary))
		return
	}
	stats, err := h.query.Stats(metric, readings)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

// Classify GET /classify?metric=&value=
func (h *SensorHandler) Classify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("value")
	if raw == "" {
		h.fail(w, fmt.Errorf("%w: value is required", models.ErrQuery))
		return
	}
	value, err := parseFloat(raw, 0)
	if err != nil {
		h.fail(w, err)
		return
	}
	score, err := h.query.Classify(r.URL.Query().Get("metric"), value)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(score))
}

// Chart GET /chart?metric=&window=
func (h *SensorHandler) Chart(w http.ResponseWriter, r *http.Request) {
	minutes, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		h.fail(w, err)
		return
	}
	series, err := h.query.ChartSeries(r.URL.Query().Get("metric"), minutes)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(series))
}

// Radar GET /radar?window=
func (h *SensorHandler) Radar(w http.ResponseWriter, r *http.Request) {
	readings, err := h.windowed(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.query.Radar(readings)))
}

// Summary GET /summary?window=
func (h *SensorHandler) Summary(w http.ResponseWriter, r *http.Request) {
	readings, err := h.windowed(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.query.Summarize(readings)))
}

// Map GET /map?metric=&source=session|window&window=
func (h *SensorHandler) Map(w http.ResponseWriter, r *http.Request) {
	var readings []models.Reading
	var err error
	if r.URL.Query().Get("source") == "session" {
		readings, err = h.query.SessionPath(0, 0)
	} else {
		readings, err = h.windowed(r)
	}
	if err != nil {
		h.fail(w, err)
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = string(models.MetricTemperature)
	}
	view, err := h.query.Map(metric, readings)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// Dates GET /dates
func (h *SensorHandler) Dates(w http.ResponseWriter, r *http.Request) {
	dates := h.query.AvailableDates()
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, Ok(dates))
}

// ByDate GET /readings/by-date?date=YYYY-MM-DD&hour=
func (h *SensorHandler) ByDate(w http.ResponseWriter, r *http.Request) {
	readings, err := h.query.ByDateHour(r.URL.Query().Get("date"), parseInt(r.URL.Query().Get("hour"), -1))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(readings))
}

// ExportCSV GET /export.csv?window=
func (h *SensorHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	readings, err := h.windowed(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, readings); err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportName("csv")+`"`)
	_, _ = w.Write(buf.Bytes())
}

// ExportXLSX GET /export.xlsx?window=
func (h *SensorHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	readings, err := h.windowed(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := export.GenerateXLSX(readings)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportName("xlsx")+`"`)
	_, _ = w.Write(data)
}

func exportName(ext string) string {
	return "sensor-data-" + time.Now().Format("2006-01-02") + "." + ext
}

// LinkStatus GET /link
func (h *SensorHandler) LinkStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]string{"state": h.link.LinkState()}))
}

// LinkStart POST /link/start
func (h *SensorHandler) LinkStart(w http.ResponseWriter, r *http.Request) {
	if err := h.link.StartLink(); err != nil {
		h.logger.Warn("Link start rejected", zap.Error(err))
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"state": h.link.LinkState()}))
}

// LinkStop POST /link/stop
func (h *SensorHandler) LinkStop(w http.ResponseWriter, r *http.Request) {
	if err := h.link.StopLink(); err != nil {
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"state": h.link.LinkState()}))
}
