// Package transfer serves the authenticated endpoint the voice agent calls to
// move a live call to a directory destination.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/sebas/voicebridge/internal/bridge/directory"
	"github.com/sebas/voicebridge/internal/bridge/session"
	"github.com/sebas/voicebridge/internal/bridge/telemetry"
)

const maxBodyBytes = 1 << 20

// Transfer statuses reported in 200 responses.
const (
	StatusInitiated = "initiated"
	StatusError     = "error"
)

// Request is the tool-call body.
type Request struct {
	Args *Args        `json:"args"`
	Call *CallContext `json:"call"`
}

// Args are the arguments the agent's model passed to the transfer tool.
type Args struct {
	TargetKey string `json:"target_key"`
}

// Response is the body of every 200 reply.
type Response struct {
	TransferStatus string `json:"transfer_status"`
	Destination    string `json:"destination,omitempty"`
	TargetKey      string `json:"target_key,omitempty"`
	CallID         string `json:"call_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

// ErrorResponse is the body of every non-200 reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Sessions is the registry view the handler needs.
type Sessions interface {
	Get(callID string) (*session.Session, bool)
	WasClosed(callID string) bool
	Len() int
}

// Options tune a Handler.
type Options struct {
	SignatureHeader string
	RateLimit       float64 // requests per second; zero disables limiting
	RateBurst       int
	Metrics         *telemetry.Metrics
	Tracer          trace.Tracer
}

// Handler serves POST /transfer.
type Handler struct {
	verifier  *Verifier
	header    string
	sessions  Sessions
	directory *directory.Directory
	limiter   *rate.Limiter
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

func NewHandler(v *Verifier, sessions Sessions, dir *directory.Directory, opts Options) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Retell-Signature"
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	return &Handler{
		verifier:  v,
		header:    opts.SignatureHeader,
		sessions:  sessions,
		directory: dir,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "transfer")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[Transfer] Panic while handling request", "panic", rec)
			span.SetStatus(codes.Error, "panic")
			h.fail(ctx, w, newError(KindInternal, nil, "Internal server error during transfer"))
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(ctx, w, newError(KindMalformedRequest, err, "Could not read request body"))
		return
	}

	// Only authenticated requests draw from the rate limit.
	if err := h.authenticate(body, r.Header.Get(h.header)); err != nil {
		span.SetStatus(codes.Error, err.Kind.Code())
		h.fail(ctx, w, err)
		return
	}
	if !h.limiter.Allow() {
		span.SetStatus(codes.Error, KindRateLimited.Code())
		h.fail(ctx, w, newError(KindRateLimited, nil, "Too many transfer requests"))
		return
	}

	resp, err := h.handle(ctx, body)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			te = newError(KindInternal, err, "Internal server error during transfer")
		}
		span.SetStatus(codes.Error, te.Kind.Code())
		h.fail(ctx, w, te)
		return
	}

	span.SetAttributes(
		attribute.String("transfer.status", resp.TransferStatus),
		attribute.String("transfer.target_key", resp.TargetKey),
		attribute.String("transfer.call_id", resp.CallID),
	)
	outcome := resp.TransferStatus
	if resp.TransferStatus == StatusError {
		outcome = KindDispatchFailure.Code()
		span.SetStatus(codes.Error, outcome)
	}
	h.metrics.TransferRequest(ctx, outcome)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) authenticate(body []byte, signature string) *Error {
	if err := h.verifier.Verify(body, signature); err != nil {
		slog.Warn("[Transfer] Unauthorized transfer attempt", "error", err)
		return newError(KindUnauthorized, err, "Unauthorized")
	}
	return nil
}

// handle runs the transfer steps that follow authentication. Steps that
// reject the request return an *Error; once a session has been asked to
// transfer the result is always a Response.
func (h *Handler) handle(ctx context.Context, body []byte) (Response, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Response{}, newError(KindMalformedRequest, err, "Malformed request body")
	}
	if req.Args == nil || req.Call == nil {
		return Response{}, newError(KindMalformedRequest, nil, "Malformed request: missing args or call object")
	}

	targetKey := req.Args.TargetKey
	if targetKey == "" {
		slog.Warn("[Transfer] Missing target_key in function arguments")
		return Response{}, newError(KindMissingTarget, nil, "Missing target_key in function arguments")
	}

	callID, source, ok := ExtractCallID(*req.Call)
	if !ok {
		slog.Warn("[Transfer] No call id in call context", "agent_call_id", req.Call.CallID)
		return Response{}, newError(KindIdentifierNotFound, nil, "Call identifier not found in call context")
	}
	slog.Info("[Transfer] Extracted call id", "call_id", callID, "source", source, "target_key", targetKey)

	sess, ok := h.sessions.Get(callID)
	if !ok {
		if h.sessions.WasClosed(callID) {
			slog.Warn("[Transfer] Transfer requested for closed session", "call_id", callID)
			h.metrics.Anomaly(ctx, "transfer_after_close")
		} else {
			slog.Warn("[Transfer] No active session", "call_id", callID, "active", h.sessions.Len())
		}
		return Response{}, newError(KindSessionNotFound, nil, "No active session found for call %s", callID)
	}

	dest, ok := h.directory.Resolve(targetKey)
	if !ok {
		slog.Warn("[Transfer] Unknown target", "call_id", callID, "target_key", targetKey)
		return Response{}, newError(KindUnknownTarget, directory.ErrUnknownTarget, "Invalid target_key: %s", targetKey)
	}

	resp := Response{TargetKey: targetKey, CallID: callID, Destination: dest.Destination}
	if _, err := sess.Transfer(ctx, dest); err != nil {
		slog.Error("[Transfer] Transfer command failed",
			"call_id", callID,
			"target_key", targetKey,
			"error", err,
		)
		resp.TransferStatus = StatusError
		resp.Error = dispatchMessage(err)
		resp.Code = KindDispatchFailure.Code()
		return resp, nil
	}

	slog.Info("[Transfer] Transfer initiated",
		"call_id", callID,
		"target_key", targetKey,
		"destination", dest.Destination,
	)
	resp.TransferStatus = StatusInitiated
	return resp, nil
}

func dispatchMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		return "Call ended before the transfer could start"
	case errors.Is(err, session.ErrTransferPending):
		return "A transfer is already in progress"
	case errors.Is(err, session.ErrInvalidState):
		return "Call is not connected yet"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Transfer request was cancelled"
	default:
		return fmt.Sprintf("Failed to initiate transfer: %v", err)
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, e *Error) {
	h.metrics.TransferRequest(ctx, e.Kind.Code())
	writeJSON(w, e.Kind.HTTPStatus(), ErrorResponse{Error: e.Message, Code: e.Kind.Code()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[Transfer] Failed to encode response", "error", err)
	}
}
