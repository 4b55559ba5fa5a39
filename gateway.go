package gateway

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/assesshub/gateway/auth"
	"github.com/assesshub/gateway/logging"
	"github.com/assesshub/gateway/metrics"
	"github.com/assesshub/gateway/proxy"
	"github.com/assesshub/gateway/telemetry"
)

const (
	// DefaultShutdownGracePeriod is how long in-flight requests,
	// including open event streams, are drained on shutdown.
	DefaultShutdownGracePeriod = 30 * time.Second
)

// Options to start the gateway.
type Options struct {
	// Address is the network address the gateway listens on.
	Address string

	// SupportListener is the network address of the side channel
	// serving /metrics and /healthz. Empty disables it.
	SupportListener string

	// Environment is the deployment environment name. Auth
	// bypassing is only possible outside "production".
	Environment string

	// DisableAuth replaces the principal resolvers with mock
	// variants. Honored only outside production.
	DisableAuth bool

	// TokenSecret is the HMAC key the bearer and cookie tokens
	// are verified against.
	TokenSecret string

	// SessionCookieName is the name of the browser session
	// cookie.
	SessionCookieName string

	// Downstream service addresses and credentials.
	PrimaryAPIURL             string
	CredentialManagerURL      string
	CredentialManagerUser     string
	CredentialManagerPassword string

	// BackendTimeout bounds buffered downstream exchanges. Zero
	// disables the gateway side deadline. Streaming exchanges are
	// never bounded.
	BackendTimeout time.Duration

	// Connection pool tuning, see proxy.TransportOptions.
	IdleConnsPerHost int
	IdleConnTimeout  time.Duration

	// Insecure causes the gateway to skip the TLS verification of
	// the downstream services.
	Insecure bool

	// ClientTLS is the TLS configuration used towards the
	// downstream services.
	ClientTLS *tls.Config

	// EventsRedisAddr is the address of the redis instance used
	// as telemetry message bus. Empty disables publishing.
	EventsRedisAddr string

	// EventsChannel is the pub/sub channel usage events are
	// published on.
	EventsChannel string

	// EnablePrometheusMetrics enables the metrics collection
	// exposed on the support listener.
	EnablePrometheusMetrics bool

	// MetricsPrefix overrides the metrics namespace.
	MetricsPrefix string

	// EnableRuntimeMetrics adds Go runtime metrics to the
	// collected traffic metrics.
	EnableRuntimeMetrics bool

	// AccessLogDisabled suppresses the access log.
	AccessLogDisabled bool

	// ApplicationLogPrefix is prepended to application log
	// entries.
	ApplicationLogPrefix string

	// ApplicationLogLevel sets the application log level,
	// defaults to INFO.
	ApplicationLogLevel log.Level

	// ShutdownGracePeriod is how long in-flight requests are
	// drained on SIGTERM/SIGINT.
	ShutdownGracePeriod time.Duration
}

// supportHandler serves the operational side channel: the collected
// metrics and the liveness endpoint of the gateway process itself.
func supportHandler(m metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(m))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Run starts the gateway and blocks until a termination signal
// arrives and the listeners have drained.
func Run(o Options) error {
	logging.Init(logging.Options{
		ApplicationLogPrefix: o.ApplicationLogPrefix,
		AccessLogDisabled:    o.AccessLogDisabled,
	})

	if o.ApplicationLogLevel != 0 {
		log.SetLevel(o.ApplicationLogLevel)
	}

	var m metrics.Metrics = metrics.Void
	if o.EnablePrometheusMetrics {
		m = metrics.NewPrometheus(metrics.Options{
			Prefix:               o.MetricsPrefix,
			EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		})
	}

	var publisher telemetry.Publisher = telemetry.Nop
	if o.EventsRedisAddr != "" {
		rp := telemetry.NewRedisPublisher(telemetry.Options{
			Addr:    o.EventsRedisAddr,
			Channel: o.EventsChannel,
		})
		defer rp.Close()
		publisher = rp
	}

	authOptions := auth.Options{
		Secret:      []byte(o.TokenSecret),
		CookieName:  o.SessionCookieName,
		Environment: o.Environment,
		DisableAuth: o.DisableAuth,
	}

	if authOptions.Bypassed() {
		log.Warn("token verification is disabled, using mock principals")
	}

	transports := proxy.NewTransports(proxy.TransportOptions{
		Insecure:         o.Insecure,
		ClientTLS:        o.ClientTLS,
		IdleConnsPerHost: o.IdleConnsPerHost,
		IdleConnTimeout:  o.IdleConnTimeout,
	})

	p := proxy.WithParams(proxy.Params{
		PrimaryAPIURL:             o.PrimaryAPIURL,
		CredentialManagerURL:      o.CredentialManagerURL,
		CredentialManagerUser:     o.CredentialManagerUser,
		CredentialManagerPassword: o.CredentialManagerPassword,
		BearerAuth:                auth.NewBearerResolver(authOptions),
		CookieAuth:                auth.NewCookieResolver(authOptions),
		Publisher:                 publisher,
		Transports:                transports,
		BackendTimeout:            o.BackendTimeout,
		Metrics:                   m,
		AccessLogDisabled:         o.AccessLogDisabled,
	})
	defer p.Close()

	server := &http.Server{
		Addr:    o.Address,
		Handler: p,
	}

	var supportServer *http.Server
	if o.SupportListener != "" {
		supportServer = &http.Server{Addr: o.SupportListener, Handler: supportHandler(m)}

		go func() {
			log.Infof("support listener on %s", o.SupportListener)
			if err := supportServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("support listener failed: %v", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", o.Address)
		errc <- server.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errc:
		return err
	case sig := <-sigs:
		log.Infof("received %v, shutting down", sig)
	}

	grace := o.ShutdownGracePeriod
	if grace == 0 {
		grace = DefaultShutdownGracePeriod
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if supportServer != nil {
		if err := supportServer.Shutdown(ctx); err != nil {
			log.Errorf("failed to shut down support listener: %v", err)
		}
	}

	return server.Shutdown(ctx)
}
