package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/metrics"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/service"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *limiter.Limiter
	validate      *validator.Validate
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, m *metrics.Metrics, logger logrus.FieldLogger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  limiter.New(limitermemory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5}),
		validate:      validator.New(),
		metrics:       m,
		log:           logger.WithField("component", "httpapi"),
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}

	mux.HandleFunc("POST /api/v1/cash-sessions", a.requireAuth(a.handleOpenSession, RoleCashier, RoleAdmin))
	mux.HandleFunc("GET /api/v1/cash-sessions/open", a.requireAuth(a.handleGetOpenSession, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/cash-sessions/{id}/close", a.requireAuth(a.handleCloseSession, RoleCashier, RoleAdmin))
	mux.HandleFunc("GET /api/v1/cash-sessions/{id}/balance", a.requireAuth(a.handleSessionBalance, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/cash-sessions/{id}/movements", a.requireAuth(a.handleRecordMovement, RoleCashier, RoleAdmin))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, RoleCashier, RoleAdmin))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/lines", a.requireAuth(a.handleAddSaleLine, RoleCashier, RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/sales/{id}/lines/{lineId}", a.requireAuth(a.handleUpdateSaleLine, RoleCashier, RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/sales/{id}/lines/{lineId}", a.requireAuth(a.handleRemoveSaleLine, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/recalculate", a.requireAuth(a.handleRecalculateSale, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/finalize", a.requireAuth(a.handleFinalizeSale, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/cancel", a.requireAuth(a.handleCancelSale, RoleCashier, RoleAdmin))

	mux.HandleFunc("POST /api/v1/purchases", a.requireAuth(a.handleCreatePurchase, RoleAdmin))
	mux.HandleFunc("GET /api/v1/purchases/{id}", a.requireAuth(a.handleGetPurchase, RoleCashier, RoleAdmin))
	mux.HandleFunc("POST /api/v1/purchases/{id}/receive", a.requireAuth(a.handleReceivePurchase, RoleAdmin))
	mux.HandleFunc("POST /api/v1/purchases/{id}/cancel", a.requireAuth(a.handleCancelPurchase, RoleAdmin))

	mux.HandleFunc("GET /api/v1/products/{id}/conversion", a.requireAuth(a.handleResolveConversion, RoleCashier, RoleAdmin))
	mux.HandleFunc("PUT /api/v1/products/{id}/presentations/{unitId}", a.requireAuth(a.handleSavePresentation, RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	limit, err := a.loginLimiter.Get(r.Context(), clientKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit.Remaining, 10))
	if limit.Reached {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionOpenRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	session, err := a.service.OpenSession(r.Context(), req.OpeningAmount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleGetOpenSession(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetOpenSession(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionCloseRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	resp, err := a.service.CloseSession(r.Context(), r.PathValue("id"), req.ClosingAmount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.service.GetSessionBalance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "", "json":
		writeJSON(w, http.StatusOK, balance)
	case "xlsx":
		a.writeBalanceWorkbook(w, balance)
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json or xlsx"))
	}
}

func (a *API) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.CashMovementRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	movement, err := a.service.RecordCashMovement(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if !a.decodeOptional(w, r, &req) {
		return
	}

	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleAddSaleLine(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleLineRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	sale, err := a.service.AddSaleLine(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleUpdateSaleLine(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleLineUpdateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	sale, err := a.service.UpdateSaleLine(r.Context(), r.PathValue("id"), r.PathValue("lineId"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleRemoveSaleLine(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.RemoveSaleLine(r.Context(), r.PathValue("id"), r.PathValue("lineId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleRecalculateSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.RecalculateTotals(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleFinalizeSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.FinalizeSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.CancelSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseCreateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	purchase, err := a.service.CreatePurchase(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := a.service.GetPurchase(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleReceivePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseReceiveRequest
	if !a.decodeOptional(w, r, &req) {
		return
	}

	purchase, err := a.service.ReceivePurchase(r.Context(), r.PathValue("id"), req.PayInCash, req.CashSessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleCancelPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseCancelRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	purchase, err := a.service.CancelPurchase(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (a *API) handleResolveConversion(w http.ResponseWriter, r *http.Request) {
	conv, err := a.service.ResolveConversion(r.Context(), r.PathValue("id"), r.URL.Query().Get("unit_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) handleSavePresentation(w http.ResponseWriter, r *http.Request) {
	var req domain.PresentationSaveRequest
	if !a.decodeValid(w, r, &req) {
		return
	}

	presentation, err := a.service.SavePresentation(r.Context(), r.PathValue("id"), r.PathValue("unitId"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presentation)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(startedAt).String(),
		}).Info("request")
	})
}

func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return a.valid(w, dest)
}

// decodeOptional accepts an empty body as the zero request.
func (a *API) decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return a.valid(w, dest)
}

func (a *API) valid(w http.ResponseWriter, dest any) bool {
	if err := a.validate.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch service.ErrorKind(err) {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidArgument:
		return http.StatusBadRequest
	case service.KindInvalidState, service.KindConflict:
		return http.StatusConflict
	case service.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		writeError(w, status, err)
		return
	}

	payload := map[string]any{
		"error": err.Error(),
		"kind":  service.ErrorKind(err),
	}
	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		payload["product_id"] = stockErr.ProductID
		payload["product_name"] = stockErr.ProductName
		payload["available"] = stockErr.Available
		payload["required"] = stockErr.Required
	}
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal detail; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		logrus.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
