package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/service"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/store"
	"github.com/NagaSistemas/lavanderia-zanotto/internal/validate"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	validator     *validate.Validator
	allowedOrigin string
	devLogin      bool
	loginLimiter  *attemptLimiter
}

type Options struct {
	AllowedOrigin string
	// DevLogin exposes POST /api/auth/dev-login. The auth manager must have a user store.
	DevLogin bool
}

func New(svc *service.Service, auth *AuthManager, validator *validate.Validator, opts Options) *API {
	return &API{
		service:       svc,
		auth:          auth,
		validator:     validator,
		allowedOrigin: opts.AllowedOrigin,
		devLogin:      opts.DevLogin && auth.CanLogin(),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

// attemptLimiter is a token bucket per client address.
type attemptLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		idle:     3 * window,
		visitors: make(map[string]*visitor),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		l.pruneLocked(now)
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// pruneLocked drops visitors whose bucket has been idle long enough to refill.
func (l *attemptLimiter) pruneLocked(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
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
	if a.devLogin {
		mux.HandleFunc("POST /api/auth/dev-login", a.handleDevLogin)
	}

	mux.HandleFunc("GET /api/products", a.requireAuth(a.handleListProducts))
	mux.HandleFunc("POST /api/products", a.requireAuth(a.handleCreateProduct))
	mux.HandleFunc("GET /api/products/{id}", a.requireAuth(a.handleGetProduct))
	mux.HandleFunc("PATCH /api/products/{id}", a.requireAuth(a.handleUpdateProduct))
	mux.HandleFunc("DELETE /api/products/{id}", a.requireAuth(a.handleDeleteProduct))

	mux.HandleFunc("GET /api/shipments", a.requireAuth(a.handleListShipments))
	mux.HandleFunc("POST /api/shipments", a.requireAuth(a.handleCreateShipment))
	mux.HandleFunc("GET /api/shipments/{id}", a.requireAuth(a.handleGetShipment))
	mux.HandleFunc("PATCH /api/shipments/{id}", a.requireAuth(a.handleUpdateShipment))
	mux.HandleFunc("DELETE /api/shipments/{id}", a.requireAuth(a.handleDeleteShipment))

	mux.HandleFunc("GET /api/shipments/returns", a.requireAuth(a.handleReturnViews))
	mux.HandleFunc("GET /api/shipments/{id}/returns", a.requireAuth(a.handleReturnView))
	mux.HandleFunc("PATCH /api/shipments/{id}/returns", a.requireAuth(a.handleLineReturns))
	mux.HandleFunc("GET /api/shipments/balance", a.requireAuth(a.handleBalances))
	mux.HandleFunc("GET /api/shipments/balance.csv", a.requireAuth(a.handleBalancesCSV))
	mux.HandleFunc("GET /api/shipments/returns/by-product", a.requireAuth(a.handleReturnTickets))
	mux.HandleFunc("POST /api/shipments/returns/by-product", a.requireAuth(a.handleProductReturns))

	mux.HandleFunc("GET /api/reports/monthly", a.requireAuth(a.handleMonthlyReport))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
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

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeBody(w, r, validate.Login, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decodeBody(w, r, validate.ProductCreate, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !a.decodeBody(w, r, validate.ProductUpdate, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.DeleteProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := a.service.ListShipments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipments)
}

func (a *API) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req domain.ShipmentCreateRequest
	if !a.decodeBody(w, r, validate.ShipmentCreate, &req) {
		return
	}
	shipment, err := a.service.CreateShipment(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipment)
}

func (a *API) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	shipment, err := a.service.GetShipment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (a *API) handleUpdateShipment(w http.ResponseWriter, r *http.Request) {
	var req domain.ShipmentUpdateRequest
	if !a.decodeBody(w, r, validate.ShipmentUpdate, &req) {
		return
	}
	shipment, err := a.service.UpdateShipment(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (a *API) handleDeleteShipment(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteShipment(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReturnViews(w http.ResponseWriter, r *http.Request) {
	views, err := a.service.ListReturnViews(r.Context(), queryFlag(r, "pendingOnly"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleReturnView(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetReturnView(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleLineReturns(w http.ResponseWriter, r *http.Request) {
	var req domain.LineReturnsRequest
	if !a.decodeBody(w, r, validate.LineReturns, &req) {
		return
	}
	shipment, err := a.service.UpdateLineReturns(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.Balances(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleBalancesCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := a.service.WriteBalancesCSV(r.Context(), &buf); err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="saldo-enxoval.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleReturnTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.service.ReturnTickets(r.Context(), queryFlag(r, "pendingOnly"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (a *API) handleProductReturns(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductReturnsRequest
	if !a.decodeBody(w, r, validate.ProductReturns, &req) {
		return
	}
	resp, err := a.service.ApplyProductReturns(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeServiceError(w, validate.Fail("year", "must be a number"))
			return
		}
		year = parsed
	}
	report, err := a.service.MonthlyReport(r.Context(), year)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// decodeBody reads the request body and checks it against the named schema.
// It writes the error response itself and reports whether decoding succeeded.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dest any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, errors.New("could not read request body"))
		return false
	}
	if err := a.validator.Decode(schema, body, dest); err != nil {
		writeServiceError(w, err)
		return false
	}
	return true
}

func queryFlag(r *http.Request, name string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && value
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log; clients get a generic message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	payload := map[string]any{"error": msg}
	if status == http.StatusConflict {
		payload["error"] = "record was changed by another request, reload and try again"
	}
	if fields := validate.Fields(err); status == http.StatusBadRequest && len(fields) > 0 {
		payload["fields"] = fields
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
