package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/service"
	"github.com/rs-ent/starglow-sub015/storage"
)

// Queue puts a payment on the fulfillment queue.
type Queue interface {
	Enqueue(ctx context.Context, paymentID string) (bool, error)
}

type Server struct {
	db          storage.DatabaseStorage
	fulfillment service.Fulfillment
	queue       Queue
	auth        *Authenticator
	gatherer    prometheus.Gatherer
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	logger      logrus.FieldLogger
}

func NewServer(
	db storage.DatabaseStorage,
	fulfillment service.Fulfillment,
	queue Queue,
	auth *Authenticator,
	reg prometheus.Registerer,
	gatherer prometheus.Gatherer,
	logger logrus.FieldLogger,
) (*Server, error) {
	if db == nil || fulfillment == nil {
		return nil, fmt.Errorf("database storage and fulfillment cannot be nil")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	s := &Server{
		db:          db,
		fulfillment: fulfillment,
		queue:       queue,
		auth:        auth,
		gatherer:    gatherer,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		logger: logger.WithField("component", "api"),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{s.requests, s.duration} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("reg.Register: %w", err)
			}
		}
	}
	return s, nil
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.metricsMiddleware())

	r.GET("/healthz", s.health)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	payments := r.Group("/payments", s.auth.Middleware())
	payments.POST("/:id/fulfill", s.fulfill)
	payments.POST("/:id/enqueue", s.enqueue)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("api server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("srv.ListenAndServe: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("srv.Shutdown: %w", err)
	}
	return nil
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		s.requests.WithLabelValues(c.Request.Method, path, status).Inc()
		s.duration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizedPayment loads the path payment and checks it belongs to the
// token subject. It writes the error response itself and returns nil then.
func (s *Server) authorizedPayment(c *gin.Context) *types.Payment {
	id := c.Param("id")
	payment, err := s.db.GetPayment(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, types.Fail(types.ErrPaymentNotFound, fmt.Sprintf("Payment %s not found", id)))
		return nil
	}
	if err != nil {
		s.logger.WithField("payment_id", id).WithError(err).Error("failed to load payment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil
	}
	if payment.UserID != c.GetString(contextUserID) {
		c.JSON(http.StatusForbidden, types.Fail(types.ErrUnauthorized, "Unauthorized"))
		return nil
	}
	return payment
}

func (s *Server) fulfill(c *gin.Context) {
	payment := s.authorizedPayment(c)
	if payment == nil {
		return
	}
	res := s.fulfillment.ProcessPayment(c.Request.Context(), *payment)
	c.JSON(resultStatus(res), res)
}

func (s *Server) enqueue(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue not configured"})
		return
	}
	payment := s.authorizedPayment(c)
	if payment == nil {
		return
	}
	if payment.Status != types.PaymentStatusPaid {
		c.JSON(http.StatusConflict, types.Fail(types.ErrInvalidPaymentStatus, fmt.Sprintf("Payment is %s", payment.Status)))
		return
	}
	queued, err := s.queue.Enqueue(c.Request.Context(), payment.ID)
	if err != nil {
		s.logger.WithField("payment_id", payment.ID).WithError(err).Error("failed to enqueue payment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"paymentId": payment.ID, "queued": queued})
}

func resultStatus(res types.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Error.Code {
	case types.ErrProcessingInProgress:
		return http.StatusConflict
	case types.ErrPaymentNotFound, types.ErrCollectionNotFound:
		return http.StatusNotFound
	case types.ErrUnauthorized:
		return http.StatusForbidden
	case types.ErrProcessingFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
