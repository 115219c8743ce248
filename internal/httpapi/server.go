package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/protectedqr/qrcore/server/internal/qrcore/service"
	"github.com/protectedqr/qrcore/server/internal/qrcore/types"
)

const (
	maxGenerateBody = 16 << 10
	maxVerifyBody   = 10 << 20
)

// ReadyCheck is one dependency probed by GET /ready.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Logger              *slog.Logger
	Addr                string
	IssuanceService     *service.IssuanceService
	VerificationService *service.VerificationService

	// ReadyChecks run on every GET /ready, each bounded by ReadyTimeout.
	ReadyChecks  []ReadyCheck
	ReadyTimeout time.Duration

	// RateLimitPerMinute applies per client IP to /qr/*; 0 disables.
	RateLimitPerMinute int
}

type Server struct {
	httpServer          *http.Server
	logger              *slog.Logger
	mux                 *http.ServeMux
	issuanceService     *service.IssuanceService
	verificationService *service.VerificationService
	readyChecks         []ReadyCheck
	readyTimeout        time.Duration
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:              d.Logger,
		mux:                 mux,
		issuanceService:     d.IssuanceService,
		verificationService: d.VerificationService,
		readyChecks:         d.ReadyChecks,
		readyTimeout:        d.ReadyTimeout,
	}
	if s.readyTimeout <= 0 {
		s.readyTimeout = 5 * time.Second
	}

	limiter := newPerMinuteLimiter(d.RateLimitPerMinute)

	mux.HandleFunc("POST /qr/generate", rateLimit(limiter, s.handleGenerate))
	mux.HandleFunc("POST /qr/verify", rateLimit(limiter, s.handleVerify))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	var handler http.Handler = gzhttp.GzipHandler(mux)
	handler = loggingMiddleware(d.Logger, handler)
	handler = headersMiddleware(handler)
	handler = recoveryMiddleware(d.Logger, handler)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln instead of listening on Addr.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)

	var req types.GenerateRequest
	if isProtobuf(r) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeBodyError(w, err, "bad_protobuf", "could not read request body")
			return
		}
		if req, err = generateRequestFromProto(body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
	} else {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeBodyError(w, err, "bad_json", "invalid JSON body")
			return
		}
	}

	resp, err := s.issuanceService.Generate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if isProtobuf(r) || acceptsProtobuf(r) {
		writeProto(w, http.StatusOK, generateResponseToProto(resp))
		return
	}
	writeJSON(w, http.StatusOK, generateResponseToJSON(resp))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVerifyBody)

	image, ok := s.readImage(w, r)
	if !ok {
		return
	}

	resp, err := s.verificationService.Verify(r.Context(), image)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if acceptsProtobuf(r) {
		writeProto(w, http.StatusOK, verifyResponseToProto(resp))
		return
	}
	writeJSON(w, http.StatusOK, verifyResponseToJSON(resp))
}

// readImage extracts the uploaded image from a multipart "image" field or a
// raw image body. It writes the error response itself when ok is false.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (image []byte, ok bool) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mt = ""
	}

	switch {
	case mt == "multipart/form-data":
		if err := r.ParseMultipartForm(maxVerifyBody); err != nil {
			writeBodyError(w, err, "bad_multipart", "invalid multipart body")
			return nil, false
		}
		defer r.MultipartForm.RemoveAll()

		f, _, err := r.FormFile("image")
		if err != nil {
			writeErrorDetails(w, http.StatusBadRequest, "validation_failed", "request validation failed",
				map[string]string{"image": "multipart field is required"})
			return nil, false
		}
		defer f.Close()

		image, err = io.ReadAll(f)
		if err != nil {
			writeBodyError(w, err, "bad_multipart", "could not read image")
			return nil, false
		}
		return image, true

	case strings.HasPrefix(mt, "image/") || mt == "application/octet-stream":
		image, err = io.ReadAll(r.Body)
		if err != nil {
			writeBodyError(w, err, "bad_body", "could not read image")
			return nil, false
		}
		return image, true

	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			"send multipart/form-data with an image field, or a raw image body")
		return nil, false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady probes every dependency. Failure details are logged, not
// returned.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.readyChecks))
	ready := true

	for _, c := range s.readyChecks {
		ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			ready = false
			checks[c.Name] = "unavailable"
			s.logger.Warn("readiness check failed", "check", c.Name, "err", err)
			continue
		}
		checks[c.Name] = "ok"
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}
