package httpapi

import (
	"net/http"

	"wisefido-envsensor/internal/metrics"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

// Router 基于 gorilla/mux 的路由
type Router struct {
	mux    *mux.Router
	api    *mux.Router
	prom   *metrics.Prometheus
	logger *zap.Logger
}

func NewRouter(prom *metrics.Prometheus, logger *zap.Logger) *Router {
	m := mux.NewRouter()
	return &Router{
		mux:    m,
		api:    m.PathPrefix(apiPrefix).Subrouter(),
		prom:   prom,
		logger: logger,
	}
}

// handle 注册 API 路由并记录请求指标
func (r *Router) handle(path string, h http.HandlerFunc, methods ...string) {
	r.api.Handle(path, r.prom.WrapHandler(apiPrefix+path, h)).Methods(methods...)
}

// RegisterSensorRoutes 注册读数查询、导出与链路控制路由
func (r *Router) RegisterSensorRoutes(s *SensorHandler) {
	r.handle("/readings/latest", s.Latest, http.MethodGet)
	r.handle("/readings/by-date", s.ByDate, http.MethodGet)
	r.handle("/readings", s.Readings, http.MethodGet)
	r.handle("/session", s.Session, http.MethodGet)
	r.handle("/stats", s.Stats, http.MethodGet)
	r.handle("/classify", s.Classify, http.MethodGet)
	r.handle("/chart", s.Chart, http.MethodGet)
	r.handle("/radar", s.Radar, http.MethodGet)
	r.handle("/summary", s.Summary, http.MethodGet)
	r.handle("/map", s.Map, http.MethodGet)
	r.handle("/dates", s.Dates, http.MethodGet)
	r.handle("/export.csv", s.ExportCSV, http.MethodGet)
	r.handle("/export.xlsx", s.ExportXLSX, http.MethodGet)

	r.handle("/link", s.LinkStatus, http.MethodGet)
	r.handle("/link/start", s.LinkStart, http.MethodPost)
	r.handle("/link/stop", s.LinkStop, http.MethodPost)
}

// RegisterMetrics 暴露 /metrics
func (r *Router) RegisterMetrics() {
	if r.prom == nil {
		return
	}
	r.mux.Handle("/metrics", r.prom.Handler()).Methods(http.MethodGet)
}

// Handler 包装 CORS 与 panic 恢复
func (r *Router) Handler(origins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(r.logger)),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(c.Handler(r.mux))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
