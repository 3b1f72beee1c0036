package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/upb/sensor-gateway/middleware"
	"github.com/upb/sensor-gateway/services"
	"github.com/upb/sensor-gateway/utils"
	"go.uber.org/zap"
)

// Headers the upstream sensor API trusts for the caller's identity
const (
	HeaderAuthenticatedSubject = "X-Authenticated-Subject"
	HeaderAuthenticatedRoles   = "X-Authenticated-Roles"
)

// ProxyHandler forwards authorized requests, WebSocket upgrades included,
// to the sensor API.
type ProxyHandler struct {
	proxy  *httputil.ReverseProxy
	target *url.URL
	logger *zap.Logger
}

// NewProxyHandler creates a proxy to target. An empty target yields a
// handler that answers 503.
func NewProxyHandler(target string, timeout time.Duration, logger *zap.Logger) (*ProxyHandler, error) {
	h := &ProxyHandler{logger: logger}
	if target == "" {
		return h, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("upstream url must be absolute")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	h.target = u
	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		Transport:      transport,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.handleError,
	}
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		HandleServiceError(w, r, services.ErrUpstreamUnavailable, h.logger)
		return
	}
	h.proxy.ServeHTTP(w, r)
}

func (h *ProxyHandler) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(h.target)
	pr.SetXForwarded()

	// never let the caller assert its own identity
	pr.Out.Header.Del(HeaderAuthenticatedSubject)
	pr.Out.Header.Del(HeaderAuthenticatedRoles)
	pr.Out.Header.Del("Authorization")

	ctx := pr.In.Context()
	if identity := middleware.GetIdentityFromContext(ctx); identity != nil {
		pr.Out.Header.Set(HeaderAuthenticatedSubject, identity.Subject)
		pr.Out.Header.Set(HeaderAuthenticatedRoles, strings.Join(identity.Roles, ","))
	}
	if requestID := middleware.GetRequestIDFromContext(ctx); requestID != "" {
		pr.Out.Header.Set(middleware.CorrelationHeader, requestID)
	}
}

// modifyResponse drops upstream copies of headers the gateway already set.
// The proxy appends upstream headers to the writer's, so keeping them would
// send both values.
func (h *ProxyHandler) modifyResponse(resp *http.Response) error {
	ctx := resp.Request.Context()
	if middleware.GetIdentityFromContext(ctx) != nil {
		middleware.DeleteSecurityHeaders(resp.Header)
	}
	if middleware.GetRequestIDFromContext(ctx) != "" {
		resp.Header.Del(middleware.CorrelationHeader)
	}
	return nil
}

func (h *ProxyHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("upstream request failed",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	_ = utils.WriteError(w, http.StatusBadGateway, "bad_gateway", "Upstream request failed", nil)
}
