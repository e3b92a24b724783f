// Package server 提供 HTTP 接口: 盘口查询、告警管理、WebSocket 推送、健康检查与指标。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"funding-depth-monitor/internal/alertstore"
	"funding-depth-monitor/internal/core/model"
)

// maxRequestBody 请求体上限
const maxRequestBody = 64 << 10

// BookSource 最新周期结果
type BookSource interface {
	Latest() *model.Update
}

// AlertRegistry 告警管理
type AlertRegistry interface {
	Alerts() []model.Alert
	Create(ctx context.Context, name string, thresholdRate, targetAmount float64) (model.Alert, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Deps 服务依赖；Hub 与 Gatherer 可为 nil，对应路由不注册
type Deps struct {
	Book     BookSource
	Alerts   AlertRegistry
	Hub      http.Handler
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server HTTP 服务
type Server struct {
	deps   Deps
	logger *zap.Logger
	router chi.Router
	http   *http.Server
}

// CreateAlertRequest 创建告警请求体
type CreateAlertRequest struct {
	Name          string   `json:"name"`
	ThresholdRate *float64 `json:"threshold_rate"`
	TargetAmount  *float64 `json:"target_amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New 创建 HTTP 服务并注册路由
// 参数 port: 监听端口
func New(port int, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("http")}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 路由，测试中配合 httptest 使用
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe 启动监听，正常关闭时返回 nil
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP 服务启动", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.deps.Hub != nil {
		r.Handle("/ws", s.deps.Hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/book", s.handleBook)
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Post("/", s.handleCreateAlert)
			r.Delete("/{id}", s.handleDeleteAlert)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Book != nil {
		if up := s.deps.Book.Latest(); up != nil {
			resp["seq"] = up.Seq
			resp["updated_at"] = up.UpdatedAt
			resp["no_data"] = up.NoData
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBook(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Book == nil {
		writeError(w, http.StatusServiceUnavailable, "盘口数据不可用")
		return
	}
	up := s.deps.Book.Latest()
	if up == nil {
		writeError(w, http.StatusServiceUnavailable, "尚未完成首个周期")
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Alerts == nil {
		writeJSON(w, http.StatusOK, []model.Alert{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Alerts.Alerts())
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "告警管理不可用")
		return
	}

	var req CreateAlertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON: "+err.Error())
		return
	}
	if req.ThresholdRate == nil || req.TargetAmount == nil {
		writeError(w, http.StatusBadRequest, "threshold_rate 与 target_amount 为必填项")
		return
	}

	a, err := s.deps.Alerts.Create(r.Context(), req.Name, *req.ThresholdRate, *req.TargetAmount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, a)
	case errors.Is(err, model.ErrInvalidAlert):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alertstore.ErrDuplicateName):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("创建告警失败", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "创建告警失败")
	}
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "告警管理不可用")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "告警 id 非法")
		return
	}

	err = s.deps.Alerts.Delete(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, alertstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("删除告警失败", zap.String("id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "删除告警失败")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
