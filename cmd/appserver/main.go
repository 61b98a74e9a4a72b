// Command appserver wires every acton-service building block into one
// running process: pool lifecycle agents for database/cache/broker, the
// background-task supervisor, the room broadcast manager, the audit
// logger, the lockout engine, and the HTTP middleware chain (request order:
// body limit -> deprecation headers -> CORS -> panic-recovery -> tracing ->
// token validation -> route rate limiting -> metrics -> handler; there is
// no compression middleware). Grounded on the teacher's
// cmd/appserver/main.go wiring shape (flags, graceful shutdown on
// SIGINT/SIGTERM) generalized to this module's components.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acton-service/acton-service/audit"
	"github.com/acton-service/acton-service/auth/tokens"
	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/infrastructure/logging"
	"github.com/acton-service/acton-service/infrastructure/metrics"
	"github.com/acton-service/acton-service/infrastructure/middleware"
	"github.com/acton-service/acton-service/kv"
	"github.com/acton-service/acton-service/lockout"
	"github.com/acton-service/acton-service/pool"
	"github.com/acton-service/acton-service/rooms"
	"github.com/acton-service/acton-service/sharedstate"
	"github.com/acton-service/acton-service/tasks"
)

func main() {
	cfg, err := config.Load("acton-service")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.Service.Name, cfg.Service.LogLevel, cfg.Service.LogFormat)
	ctx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	m := metrics.New(cfg.Service.Name)

	state := sharedstate.New()
	pools := startPools(ctx, cfg, state, logger)
	defer stopPools(ctx, pools)

	supervisor := tasks.New(ctx, logger)
	supervisor.StartCron()
	defer supervisor.Shutdown(context.Background())

	roomMgr := rooms.New(cfg.Rooms, logger)
	roomMgr.Start(ctx)
	defer roomMgr.Stop(context.Background())

	auditStore := auditStorage(cfg, state)
	auditLogger, err := audit.NewLogger(ctx, auditStore, nil, logger)
	if err != nil {
		log.Fatalf("initialise audit logger: %v", err)
	}

	lockoutEngine := lockout.New(cfg.Lockout, kv.NewMemoryStore(), logger)

	router := mux.NewRouter()
	registerOpsRoutes(router, cfg, pools)
	registerAppRoutes(router, cfg, roomMgr, auditLogger, auditStore, lockoutEngine, logger)

	handler := buildMiddlewareChain(router, cfg, logger, m)

	addr := listenAddr(cfg)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		log.Printf("acton-service listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

type servicePools struct {
	database *pool.Pool
	cache    *pool.Pool
	broker   *pool.Pool
}

func startPools(ctx context.Context, cfg *config.Config, state *sharedstate.Container, logger *logging.Logger) servicePools {
	var pools servicePools

	if cfg.Database != nil {
		if cfg.Audit.StorageKind == "sql" && cfg.Database.URL != "" {
			if err := audit.ApplyMigrations(cfg.Database.URL); err != nil {
				log.Fatalf("apply audit migrations: %v", err)
			}
		}
		pools.database = pool.NewDatabasePool(*cfg.Database, state.DB, logger)
		if err := pools.database.Start(ctx); err != nil {
			log.Fatalf("start database pool: %v", err)
		}
	}
	if cfg.Cache != nil {
		pools.cache = pool.NewCachePool(*cfg.Cache, state.Cache, logger)
		if err := pools.cache.Start(ctx); err != nil {
			log.Fatalf("start cache pool: %v", err)
		}
	}
	if cfg.Events != nil {
		pools.broker = pool.NewBrokerPool(*cfg.Events, state.Broker, logger)
		if err := pools.broker.Start(ctx); err != nil {
			log.Fatalf("start broker pool: %v", err)
		}
	}
	return pools
}

func stopPools(ctx context.Context, pools servicePools) {
	for _, p := range []*pool.Pool{pools.database, pools.cache, pools.broker} {
		if p != nil {
			_ = p.Stop(ctx)
		}
	}
}

// auditStorage picks the audit event store per cfg.Audit.StorageKind. "sql"
// requires the database pool to have published a handle into state.DB
// already (eager, non-lazy init); if it hasn't, the audit log falls back to
// an in-memory store rather than blocking startup on a pool that may be
// optional or still reconnecting.
func auditStorage(cfg *config.Config, state *sharedstate.Container) audit.Storage {
	switch cfg.Audit.StorageKind {
	case "file":
		storage, err := audit.NewFileStorage(cfg.Audit.StoragePath)
		if err != nil {
			log.Fatalf("open audit file storage: %v", err)
		}
		return storage
	case "sql":
		if handle, ok := state.DB.Get(); ok {
			if db, ok := handle.(*sql.DB); ok {
				return audit.NewSQLStorage(sqlx.NewDb(db, "postgres"))
			}
		}
		return audit.NewMemoryStorage()
	default:
		return audit.NewMemoryStorage()
	}
}

func registerOpsRoutes(router *mux.Router, cfg *config.Config, pools servicePools) {
	health := middleware.NewHealthChecker(cfg.Service.Name, os.Getenv("ACTON_VERSION"))
	if pools.database != nil {
		optional := cfg.Database != nil && cfg.Database.Optional
		health.RegisterCheck("database", optional, func() (bool, string) { return pools.database.Status(context.Background()) })
	}
	if pools.cache != nil {
		optional := cfg.Cache != nil && cfg.Cache.Optional
		health.RegisterCheck("cache", optional, func() (bool, string) { return pools.cache.Status(context.Background()) })
	}
	if pools.broker != nil {
		optional := cfg.Events != nil && cfg.Events.Optional
		health.RegisterCheck("broker", optional, func() (bool, string) { return pools.broker.Status(context.Background()) })
	}

	router.HandleFunc("/health", health.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.ReadinessHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func registerAppRoutes(router *mux.Router, cfg *config.Config, roomMgr *rooms.Manager, auditLogger *audit.Logger, auditStore audit.Storage, lockoutEngine *lockout.Engine, logger *logging.Logger) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/rooms/{roomID}/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}
		roomID := mux.Vars(r)["roomID"]
		member := rooms.NewMember(r.RemoteAddr, middleware.GetUserID(r.Context()), conn)
		if err := roomMgr.JoinRoom(r.Context(), roomID, member); err != nil {
			_ = conn.Close()
		}
	})

	v1.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		status, err := lockoutEngine.Check(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if status.Locked {
			http.Error(w, "account locked", http.StatusTooManyRequests)
			return
		}
		_, _ = auditLogger.Log(r.Context(), audit.PartialEvent{
			Kind: "login_attempt", Method: r.Method, Path: r.URL.Path,
		})
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	v1.HandleFunc("/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		brokenAt, broken, err := audit.VerifyChain(r.Context(), auditStore, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if broken {
			logger.Warn(r.Context(), "audit chain verification failed", map[string]interface{}{"broken_at": brokenAt})
			http.Error(w, "chain broken", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
}

func buildMiddlewareChain(next http.Handler, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) http.Handler {
	handler := middleware.MetricsMiddleware(cfg.Service.Name, m)(next)

	var tokenValidator tokens.Validator
	if cfg.Token.Format != "" || cfg.Token.Local.KeyPath != "" || cfg.Token.Public.KeyPath != "" {
		v, err := tokens.NewValidator(cfg.Token)
		if err != nil {
			log.Fatalf("initialise token validator: %v", err)
		}
		tokenValidator = v
	}

	routeLimiter := middleware.NewRouteRateLimiter(cfg.RateLimit, logger)
	handler = routeLimiter.Handler(handler)

	if tokenValidator != nil {
		handler = tokens.AuthMiddleware(tokenValidator)(handler)
	}

	handler = middleware.NewTracingMiddleware(logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)

	corsCfg := &middleware.CORSConfig{AllowedOrigins: []string{"*"}}
	handler = middleware.NewCORSMiddleware(corsCfg).Handler(handler)

	if len(cfg.Middleware.DeprecatedVersions) > 0 {
		infos := make([]middleware.DeprecationInfoWithPrefix, len(cfg.Middleware.DeprecatedVersions))
		for i, dv := range cfg.Middleware.DeprecatedVersions {
			infos[i] = middleware.DeprecationInfoWithPrefix{
				DeprecationInfo: middleware.DeprecationInfo{
					Version:     dv.Version,
					Replacement: dv.Replacement,
					SunsetDate:  dv.SunsetDate,
					Message:     dv.Message,
				},
				PathPrefix: dv.PathPrefix,
			}
		}
		handler = middleware.ChainDeprecationMiddleware(handler, infos, logger)
	}

	if cfg.Middleware.BodyLimitMB > 0 {
		handler = middleware.NewBodyLimitMiddleware(int64(cfg.Middleware.BodyLimitMB) << 20).Handler(handler)
	}

	return handler
}

func listenAddr(cfg *config.Config) string {
	if cfg.Service.Port != 0 {
		return ":" + strconv.Itoa(cfg.Service.Port)
	}
	return ":8080"
}
