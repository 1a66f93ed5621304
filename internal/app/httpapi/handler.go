// Package httpapi exposes the petition services over a JSON REST API.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/petition_service/internal/app"
	"github.com/R3E-Network/petition_service/internal/app/metrics"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/httputil"
	"github.com/R3E-Network/petition_service/internal/logging"
	"github.com/R3E-Network/petition_service/internal/middleware"
)

// APIPrefix is the mount point of every resource route.
const APIPrefix = "/api/v1"

// Options tunes the HTTP surface. The zero value serves every origin, caps
// uploads at 10 MiB and disables rate limiting.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64

	// Limiter is optional. RateLimit and RateWindow only shape the 429
	// response.
	Limiter    middleware.Limiter
	RateLimit  int
	RateWindow time.Duration
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app       *app.Application
	log       *logging.Logger
	maxUpload int64
}

// NewHandler returns the routed API wrapped in tracing and CORS.
func NewHandler(application *app.Application, log *logging.Logger, opts Options) http.Handler {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	h := &handler{app: application, log: log, maxUpload: opts.MaxUploadBytes}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(h.noRoute)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)
	router.Use(middleware.MetricsMiddleware())

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix(APIPrefix).Subrouter()
	api.Use(middleware.NewAuthMiddleware(application.Gate, log).Handler)
	if opts.Limiter != nil {
		api.Use(middleware.RateLimit(opts.Limiter, opts.RateLimit, opts.RateWindow, log))
	}

	// categories must be registered before the {id} routes
	api.HandleFunc("/petitions", h.searchPetitions).Methods(http.MethodGet)
	api.HandleFunc("/petitions", h.createPetition).Methods(http.MethodPost)
	api.HandleFunc("/petitions/categories", h.categories).Methods(http.MethodGet)
	api.HandleFunc("/petitions/{id}", h.getPetition).Methods(http.MethodGet)
	api.HandleFunc("/petitions/{id}", h.updatePetition).Methods(http.MethodPatch)
	api.HandleFunc("/petitions/{id}", h.deletePetition).Methods(http.MethodDelete)
	api.HandleFunc("/petitions/{id}/supportTiers", h.createTier).Methods(http.MethodPost)
	api.HandleFunc("/petitions/{id}/supportTiers/{tierId}", h.updateTier).Methods(http.MethodPatch)
	api.HandleFunc("/petitions/{id}/supportTiers/{tierId}", h.deleteTier).Methods(http.MethodDelete)
	api.HandleFunc("/petitions/{id}/supporters", h.listSupporters).Methods(http.MethodGet)
	api.HandleFunc("/petitions/{id}/supporters", h.pledge).Methods(http.MethodPost)
	api.HandleFunc("/petitions/{id}/image", h.petitionImage).Methods(http.MethodGet)
	api.HandleFunc("/petitions/{id}/image", h.setPetitionImage).Methods(http.MethodPut)

	api.HandleFunc("/users/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/users/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/users/logout", h.logout).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", h.profile).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.updateUser).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/image", h.userImage).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/image", h.setUserImage).Methods(http.MethodPut)
	api.HandleFunc("/users/{id}/image", h.deleteUserImage).Methods(http.MethodDelete)

	var out http.Handler = router
	out = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(out)
	out = middleware.NewTracingMiddleware(log).Handler(out)
	return out
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) noRoute(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(apperrors.CodeNotFound), "no route for "+r.URL.Path, nil)
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed on "+r.URL.Path, nil)
}

// writeError renders err. Internal failures are logged here with their
// cause; client errors only count towards the rejection metric.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil || svcErr.Code == apperrors.CodeInternal {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	} else {
		metrics.RecordRejection(string(svcErr.Code))
	}
	httputil.WriteServiceError(w, r, err)
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("%s must be a positive integer", name)
	}
	return id, nil
}

// ok writes an empty 200 response.
func ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}
