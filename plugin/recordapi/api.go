// Package recordapi exposes the registry over HTTP.
//
// Writes trust the X-Caller-Account and X-Attached-Deposit headers. They must
// be set by the identity layer in front of this API, never by end users.
package recordapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neardns/neardns/pkg/admission"
	"github.com/neardns/neardns/pkg/mlog"
	"github.com/neardns/neardns/pkg/record"
	"github.com/neardns/neardns/pkg/registry"
)

const (
	HeaderCaller  = "X-Caller-Account"
	HeaderDeposit = "X-Attached-Deposit"

	maxBodySize = 64 << 10
)

type Opts struct {
	Logger *zap.Logger
	// WriteRate limits accepted writes per second. Zero disables the limit.
	WriteRate  float64
	WriteBurst int
	// Gatherer serves /metrics if not nil.
	Gatherer prometheus.Gatherer
}

type API struct {
	reg      *registry.Registry
	logger   *zap.Logger
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
}

func New(reg *registry.Registry, opts Opts) *API {
	a := &API{
		reg:      reg,
		logger:   opts.Logger,
		gatherer: opts.Gatherer,
	}
	if a.logger == nil {
		a.logger = mlog.Nop()
	}
	if opts.WriteRate > 0 {
		burst := opts.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.WriteRate), burst)
	}
	return a
}

type errorResponse struct {
	Error    string         `json:"error"`
	Attached *record.Amount `json:"attached,omitempty"`
	Required *record.Amount `json:"required,omitempty"`
}

type costResponse struct {
	CostOfInsertion record.Amount `json:"cost_of_insertion"`
}

type getResponse struct {
	Value  string `json:"value"`
	Exists bool   `json:"exists"`
}

type setRequest struct {
	Value *string `json:"value"`
}

type setResponse struct {
	Action string `json:"action"`
}

func (a *API) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/cost", a.cost)
		r.Get("/{kind}/{owner}", a.get)
		r.With(a.limitWrites).Put("/{kind}", a.set)
	})
	return r
}

func (a *API) cost(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, costResponse{CostOfInsertion: a.reg.Cost()})
}

func (a *API) get(w http.ResponseWriter, req *http.Request) {
	kind, err := record.ParseKind(chi.URLParam(req, "kind"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// chi matches on RawPath when it is set, leaving the segment escaped.
	owner := chi.URLParam(req, "owner")
	if req.URL.RawPath != "" {
		owner, err = url.PathUnescape(owner)
	}
	if err != nil || owner == "" {
		a.writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	v, ok, err := a.reg.Lookup(req.Context(), kind, record.Owner(owner))
	if err != nil {
		a.logger.Error("db error", zap.Error(err))
		a.writeError(w, http.StatusInternalServerError, "read database error")
		return
	}
	a.writeJSON(w, http.StatusOK, getResponse{Value: v, Exists: ok})
}

func (a *API) set(w http.ResponseWriter, req *http.Request) {
	kind, err := record.ParseKind(chi.URLParam(req, "kind"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller := req.Header.Get(HeaderCaller)
	if caller == "" {
		a.writeError(w, http.StatusUnauthorized, "missing "+HeaderCaller)
		return
	}
	var deposit uint64
	if s := req.Header.Get(HeaderDeposit); s != "" {
		deposit, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid "+HeaderDeposit)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "read body error")
		return
	}
	request := &setRequest{}
	if err := json.Unmarshal(body, request); err != nil || request.Value == nil {
		a.writeError(w, http.StatusBadRequest, "json format error")
		return
	}

	action, err := a.reg.Set(req.Context(), registry.Caller{
		Account: record.Owner(caller),
		Deposit: record.Amount(deposit),
	}, kind, *request.Value)
	if e, ok := admission.IsInsufficientPayment(err); ok {
		a.writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:    e.Error(),
			Attached: &e.Attached,
			Required: &e.Required,
		})
		return
	}
	if err != nil {
		a.logger.Error("update record failed", zap.Stringer("kind", kind), zap.Error(err))
		a.writeError(w, http.StatusInternalServerError, "update database error")
		return
	}
	a.writeJSON(w, http.StatusOK, setResponse{Action: action.Verb()})
}

func (a *API) limitWrites(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !a.limiter.Allow() {
			a.writeError(w, http.StatusTooManyRequests, "too many writes")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (a *API) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, errorResponse{Error: msg})
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("marshal response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
