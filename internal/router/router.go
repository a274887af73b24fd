package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/textileio/go-walletsync/internal/router/controllers"
	"github.com/textileio/go-walletsync/internal/router/middlewares"
)

// SyncRoute is the path template of the sync trigger endpoint.
const SyncRoute = "/api/v1/wallets/{address}/sync"

// RateLimit configures the request rate limits per client ip.
type RateLimit struct {
	MaxRPI   uint64
	Interval time.Duration

	// SyncMaxRPI limits manual sync triggers separately. Zero uses MaxRPI.
	SyncMaxRPI uint64
}

// ConfiguredRouter returns a fully configured Router that can be used as an http handler.
func ConfiguredRouter(
	manager controllers.SessionManager,
	node controllers.NodeStatusProvider,
	rateLimit RateLimit,
) (*Router, error) {
	walletController := controllers.NewWalletController(manager, node)
	infraController := controllers.NewInfraController()

	// General router configuration.
	router := NewRouter()
	router.Use(middlewares.CORS, middlewares.TraceID)

	cfg := middlewares.RateLimiterConfig{
		Default: middlewares.RateLimiterRouteConfig{
			MaxRPI:   rateLimit.MaxRPI,
			Interval: rateLimit.Interval,
		},
	}
	if rateLimit.SyncMaxRPI != 0 {
		cfg.RouteLimits = map[string]middlewares.RateLimiterRouteConfig{
			SyncRoute: {
				MaxRPI:   rateLimit.SyncMaxRPI,
				Interval: rateLimit.Interval,
			},
		}
	}
	rateLim, err := middlewares.RateLimitController(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating rate limit controller middleware: %s", err)
	}

	router.Get("/api/v1/wallets", walletController.GetWallets, middlewares.WithLogging, middlewares.OtelHTTP("GetWallets"), rateLim)                                                           // nolint
	router.Put("/api/v1/wallets/{address}", walletController.PutWallet, middlewares.WithLogging, middlewares.OtelHTTP("PutWallet"), middlewares.RESTAddress, rateLim)                            // nolint
	router.Delete("/api/v1/wallets/{address}", walletController.DeleteWallet, middlewares.WithLogging, middlewares.OtelHTTP("DeleteWallet"), middlewares.RESTAddress, rateLim)                   // nolint
	router.Get("/api/v1/wallets/{address}", walletController.GetWallet, middlewares.WithLogging, middlewares.OtelHTTP("GetWallet"), middlewares.RESTAddress, rateLim)                            // nolint
	router.Get("/api/v1/wallets/{address}/transactions", walletController.GetTransactions, middlewares.WithLogging, middlewares.OtelHTTP("GetTransactions"), middlewares.RESTAddress, rateLim)   // nolint
	router.Post("/api/v1/wallets/{address}/transactions", walletController.PostTransaction, middlewares.WithLogging, middlewares.OtelHTTP("PostTransaction"), middlewares.RESTAddress, rateLim) // nolint
	router.Post(SyncRoute, walletController.PostSync, middlewares.WithLogging, middlewares.OtelHTTP("PostSync"), middlewares.RESTAddress, rateLim)                                               // nolint
	router.Get("/api/v1/node", walletController.GetNode, middlewares.WithLogging, middlewares.OtelHTTP("GetNode"), rateLim)                                                                      // nolint

	router.Get("/version", infraController.Version, middlewares.WithLogging, middlewares.OtelHTTP("Version"), rateLim) // nolint

	// Health endpoint configuration.
	router.Get("/healthz", infraController.Health)
	router.Get("/health", infraController.Health)

	return router, nil
}

// Router provides a nice api around mux.Router.
type Router struct {
	r *mux.Router
}

// NewRouter is a Mux HTTP router constructor.
func NewRouter() *Router {
	r := mux.NewRouter()
	r.PathPrefix("/").Methods(http.MethodOptions) // accept OPTIONS on all routes and do nothing
	return &Router{r: r}
}

// Get creates a subroute on the specified URI that only accepts GET. You can provide specific middlewares.
func (r *Router) Get(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	r.handle(http.MethodGet, uri, f, mid...)
}

// Post creates a subroute on the specified URI that only accepts POST. You can provide specific middlewares.
func (r *Router) Post(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	r.handle(http.MethodPost, uri, f, mid...)
}

// Put creates a subroute on the specified URI that only accepts PUT. You can provide specific middlewares.
func (r *Router) Put(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	r.handle(http.MethodPut, uri, f, mid...)
}

// Delete creates a subroute on the specified URI that only accepts DELETE. You can provide specific middlewares.
func (r *Router) Delete(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	r.handle(http.MethodDelete, uri, f, mid...)
}

// Use adds middlewares to all routes. Should be used when a middleware should be execute all all routes (e.g. CORS).
func (r *Router) Use(mid ...mux.MiddlewareFunc) {
	r.r.Use(mid...)
}

// Handler returns the configured router http handler.
func (r *Router) Handler() http.Handler {
	return r.r
}

func (r *Router) handle(method, uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Methods(method).Subrouter()
	sub.HandleFunc("", f)
	sub.Use(mid...)
}
