// Command tokengate-devserver runs a token service for local development. It serves the
// public JWKS, the validate/sign/config RPC endpoints over HTTP (and over Redis when
// REDIS_ADDR is set) and a protected /me route for trying tokens by hand.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	authgin "github.com/PaulFidika/tokengate/adapters/gin"
	authhttp "github.com/PaulFidika/tokengate/adapters/http"
	"github.com/PaulFidika/tokengate/config"
	core "github.com/PaulFidika/tokengate/core"
	jwtkit "github.com/PaulFidika/tokengate/jwt"
	memorylimiter "github.com/PaulFidika/tokengate/ratelimit/memory"
	redislimiter "github.com/PaulFidika/tokengate/ratelimit/redis"
	"github.com/PaulFidika/tokengate/rpc"
	"github.com/PaulFidika/tokengate/rpc/httprpc"
	"github.com/PaulFidika/tokengate/rpc/redisbus"
	redisstore "github.com/PaulFidika/tokengate/storage/redis"
	"github.com/gin-gonic/gin"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type serverEnv struct {
	Addr          string `env:"ADDR,default=:8080"`
	RedisAddr     string `env:"REDIS_ADDR"`
	DevKeyDir     string `env:"DEV_KEY_DIR,default=.runtime/tokengate"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	RPCPrefix     string `env:"RPC_PREFIX,default=/rpc"`
	SignRateLimit int    `env:"SIGN_RATE_LIMIT,default=60"`

	// id=secret pairs, ';'-separated
	SignSecrets []string `env:"RPC_SIGN_SECRETS"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadDotEnv(".env"); err != nil {
		log.WithError(err).Fatal("dotenv")
	}
	var env serverEnv
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		log.WithError(err).Fatal("server env")
	}
	if lvl, err := logrus.ParseLevel(env.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	secrets, err := rpc.ParseCallerSecrets(env.SignSecrets)
	if err != nil {
		log.WithError(err).Fatal("RPC_SIGN_SECRETS")
	}

	cfg, err := authConfig(env, log)
	if err != nil {
		log.WithError(err).Fatal("auth config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		rdb     *redis.Client
		opts    = []core.Option{core.WithLogger(log)}
		limiter rpc.Limiter
	)
	if env.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: env.RedisAddr, ContextTimeoutEnabled: true})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("redis ping")
		}
		opts = append(opts, core.WithKeyCache(redisstore.NewKeyCache(rdb, "", cfg.KeyCacheTTL)))
		limiter = redislimiter.New(rdb, "", map[string]redislimiter.Limit{
			rpc.SignBucket: {Limit: env.SignRateLimit, Window: time.Minute},
		})
	} else {
		ml := memorylimiter.New(map[string]memorylimiter.Limit{
			rpc.SignBucket: {Limit: env.SignRateLimit, Window: time.Minute},
		})
		stopSweep, err := ml.SweepEvery("@every 1m")
		if err != nil {
			log.WithError(err).Fatal("limiter sweep")
		}
		defer stopSweep()
		limiter = ml
	}

	facade, err := core.New(cfg, opts...)
	if err != nil {
		log.WithError(err).Fatal("auth facade")
	}
	defer facade.Close()

	dispatcher := rpc.NewDispatcher(facade, rpc.WithSignLimiter(limiter), rpc.WithLogger(log))

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))
	reg := authgin.NewRegistrar(engine)
	reg.GET("/.well-known/jwks.json", authhttp.JWKSHandler(facade))
	var rpcOpts []httprpc.ServerOption
	busOpts := []redisbus.ServerOption{redisbus.WithServerLogger(log)}
	if len(secrets) > 0 {
		rpcOpts = append(rpcOpts, httprpc.WithSignAuth(httprpc.SharedSecretAuth(secrets)))
		busOpts = append(busOpts, redisbus.WithSignSecrets(secrets))
	} else if facade.CanSign() {
		log.Warn("RPC_SIGN_SECRETS unset: the sign endpoint accepts any caller")
	}
	httprpc.NewServer(dispatcher, rpcOpts...).Register(reg, env.RPCPrefix)
	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/me", authgin.Required(facade), func(c *gin.Context) {
		caller, _ := authgin.CurrentCaller(c)
		c.JSON(http.StatusOK, caller)
	})

	var wg sync.WaitGroup
	if rdb != nil {
		bus := redisbus.NewServer(rdb, dispatcher, busOpts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("redis rpc server stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              env.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": env.Addr, "mode": cfg.AuthMode, "can_sign": facade.CanSign()}).Info("tokengate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	wg.Wait()
}

// authConfig loads the auth configuration. With no key material at all it falls back to a
// persisted dev RSA key in static mode, so the server can sign out of the box.
func authConfig(env serverEnv, log logrus.FieldLogger) (core.AuthConfig, error) {
	e, err := config.DecodeEnv()
	if err != nil {
		return core.AuthConfig{}, err
	}
	cfg, err := e.AuthConfig()
	if err != nil {
		return core.AuthConfig{}, err
	}
	if cfg.KeyURL == "" && len(cfg.SecretKey) == 0 && cfg.PublicKey == nil && cfg.PrivateKey == nil {
		dk, err := jwtkit.LoadOrGenerateDevKey(env.DevKeyDir)
		if err != nil {
			return core.AuthConfig{}, err
		}
		log.WithFields(logrus.Fields{"kid": dk.KID, "dir": env.DevKeyDir}).Warn("using development signing key")
		cfg.AuthMode = core.ModeStatic
		cfg.PrivateKey = dk.PrivateKey
		cfg.KeyID = dk.KID
		cfg.SigningAlgorithm = "RS256"
	}
	return cfg, cfg.Validate()
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request")
	}
}
