package notary

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const maxRequestBody = 64 << 10

// ServerConfig tunes the HTTP front end. Zero values disable the matching check.
type ServerConfig struct {
	RateLimit rate.Limit          // requests per second per client
	RateBurst int                 // burst per client
	Gatherer  prometheus.Gatherer // served on /metrics when set
	Logger    *slog.Logger
}

// Server exposes a Notary over HTTP/HTTPS.
type Server struct {
	notary    *Notary
	inspector *Inspector
	cfg       ServerConfig
	limiter   *clientLimiter
	log       *slog.Logger
	tlsConfig *tls.Config
}

// NewServer creates the HTTP front end for n.
func NewServer(n *Notary, cfg ServerConfig) *Server {
	s := &Server{
		notary:    n,
		inspector: NewInspector(n.Store(), n.Deriver(), n.Namespace()),
		cfg:       cfg,
		log:       cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newClientLimiter(cfg.RateLimit, burst)
	}
	return s
}

// SetTLSConfig clones cfg and stores it for use when serving HTTPS requests.
// If cfg is nil a default configuration will be used.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	if cfg == nil {
		s.tlsConfig = nil
		return
	}
	s.tlsConfig = cfg.Clone()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.echoRequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts/{address}", s.HandleAccount)
		r.Get("/derive/{subject}", s.HandleDerive)
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.handler(s.log))
			}
			r.Post("/integrity", s.HandleIntegrity)
		})
	})
	return r
}

func (s *Server) echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// isProtobuf checks if the request content type is protobuf.
func isProtobuf(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return strings.HasPrefix(contentType, ProtoContentType) ||
		strings.HasPrefix(contentType, "application/protobuf")
}

func wantsProtobuf(r *http.Request) bool {
	return isProtobuf(r) || strings.Contains(r.Header.Get("Accept"), ProtoContentType)
}

// decodeUpdateRequest decodes an UpdateRequest from either JSON or Protobuf.
func decodeUpdateRequest(r *http.Request) (UpdateRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return UpdateRequest{}, fmt.Errorf("read body: %w", err)
	}
	if isProtobuf(r) {
		return UnmarshalProtoUpdateRequest(body)
	}
	var req UpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return UpdateRequest{}, fmt.Errorf("decode json: %w", err)
	}
	return req, nil
}

// HandleIntegrity handles POST /api/v1/integrity - the update_integrity instruction.
// Supports both JSON and Protocol Buffer encoding.
func (s *Server) HandleIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	proto := wantsProtobuf(r)

	req, err := decodeUpdateRequest(r)
	if err != nil {
		s.writeError(w, proto, http.StatusBadRequest, WireError{Code: "bad_request", Message: err.Error()})
		return
	}
	rcpt, err := s.notary.UpdateIntegrity(ctx, req)
	if err != nil {
		s.writeError(w, proto, statusFor(err), NewWireError(err))
		return
	}
	rcpt.RequestID = middleware.GetReqID(ctx)

	status := http.StatusOK
	if rcpt.Created {
		status = http.StatusCreated
	}
	if proto {
		data, err := MarshalProtoReceipt(rcpt)
		if err != nil {
			s.writeError(w, proto, http.StatusInternalServerError, NewWireError(err))
			return
		}
		w.Header().Set("Content-Type", ProtoContentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, status, rcpt)
}

// accountView is the JSON form of GET /api/v1/accounts/{address}.
type accountView struct {
	Address Address         `json:"address"`
	Version uint8           `json:"version"`
	Record  IntegrityRecord `json:"record"`
}

// HandleAccount handles GET /api/v1/accounts/{address}. It returns the raw
// account bytes, or the decoded record and its layout version with ?format=json.
func (s *Server) HandleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, false, http.StatusBadRequest, NewWireError(err))
		return
	}
	data, err := s.notary.Store().Load(r.Context(), addr)
	if err != nil {
		err = wrapStorage("load", addr, err)
		s.writeError(w, false, statusFor(err), NewWireError(err))
		return
	}
	if r.URL.Query().Get("format") != "json" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	rec, err := s.inspector.decode(addr, data)
	if err != nil {
		s.writeError(w, false, statusFor(err), NewWireError(err))
		return
	}
	version, _ := RecordVersion(data)
	writeJSON(w, http.StatusOK, accountView{Address: addr, Version: version, Record: rec})
}

// deriveView is the JSON form of GET /api/v1/derive/{subject}.
type deriveView struct {
	Subject   Identity `json:"subject"`
	Address   Address  `json:"address"`
	Bump      uint8    `json:"bump"`
	Namespace string   `json:"namespace"`
	ProgramID Identity `json:"program_id"`
}

// HandleDerive handles GET /api/v1/derive/{subject}.
func (s *Server) HandleDerive(w http.ResponseWriter, r *http.Request) {
	subject, err := ParseIdentity(chi.URLParam(r, "subject"))
	if err != nil {
		s.writeError(w, false, http.StatusBadRequest, NewWireError(err))
		return
	}
	d := s.notary.Deriver()
	addr, bump, err := d.Derive(s.notary.Namespace(), subject)
	if err != nil {
		s.writeError(w, false, statusFor(err), NewWireError(err))
		return
	}
	writeJSON(w, http.StatusOK, deriveView{
		Subject:   subject,
		Address:   addr,
		Bump:      bump,
		Namespace: s.notary.Namespace(),
		ProgramID: d.ProgramID(),
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrStaleRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrReplayedRequest):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorizedNotary):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRecordExists), errors.Is(err, ErrSizeMismatch):
		return http.StatusConflict
	}
	switch ErrorKind(err) {
	case KindAuthorization:
		return http.StatusForbidden
	case KindDerivation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, proto bool, status int, we WireError) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "kind", we.Kind, "error", we.Message)
	}
	if proto {
		w.Header().Set("Content-Type", ProtoContentType)
		w.WriteHeader(status)
		_, _ = w.Write(MarshalProtoError(we))
		return
	}
	writeJSON(w, status, we)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) tlsConfigWithDefaults() *tls.Config {
	if s.tlsConfig == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// ListenAndServe serves plain HTTP until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return s.serve(ctx, &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}, "", "")
}

// ListenAndServeTLS serves HTTPS until ctx is cancelled.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr, certFile, keyFile string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         s.tlsConfigWithDefaults(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.serve(ctx, server, certFile, keyFile)
}

func (s *Server) serve(ctx context.Context, server *http.Server, certFile, keyFile string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("notary listening", "addr", server.Addr, "tls", certFile != "")
		if certFile != "" {
			errCh <- server.ListenAndServeTLS(certFile, keyFile)
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// maxClients is the limiter table size that triggers a sweep of idle buckets.
const maxClients = 10000

// clientLimiter keeps one token bucket per client address. Buckets that have
// refilled completely are indistinguishable from new ones and are swept once
// the table reaches sweepAt entries.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	sweepAt  int
	now      func() time.Time
}

func newClientLimiter(r rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		sweepAt:  maxClients,
		now:      time.Now,
	}
}

func (cl *clientLimiter) allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	now := cl.now()
	l, ok := cl.limiters[key]
	if !ok {
		if len(cl.limiters) >= cl.sweepAt {
			cl.sweep(now)
		}
		l = rate.NewLimiter(cl.rate, cl.burst)
		cl.limiters[key] = l
	}
	return l.AllowN(now, 1)
}

// sweep drops idle buckets. If every client is still active the threshold
// doubles so the scan stays amortized.
func (cl *clientLimiter) sweep(now time.Time) {
	for key, l := range cl.limiters {
		if l.TokensAt(now) >= float64(cl.burst) {
			delete(cl.limiters, key)
		}
	}
	cl.sweepAt = max(maxClients, 2*len(cl.limiters))
}

func (cl *clientLimiter) handler(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				key = r.RemoteAddr
			}
			if !cl.allow(key) {
				log.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, WireError{Code: "rate_limited", Message: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
