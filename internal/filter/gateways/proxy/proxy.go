package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Evaluator is the slice of the engine the proxy needs: one synchronous
// decision per request, plus the toggle state for header injection.
type Evaluator interface {
	Evaluate(req domain.Request) domain.Decision
	Enabled() bool
}

// Hop-by-hop headers, stripped before forwarding (RFC 7230 §6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Server is a forward HTTP proxy that applies the engine's decision to every
// request passing through it: Block becomes 403, Redirect transparently
// re-targets the outbound request to the cleaned URL, Allow forwards as-is.
// CONNECT tunnels are hostname-matched only, since the query is not visible.
//
// When the engine is enabled, every forwarded request carries the
// privacy-signal header Sec-GPC: 1, independent of the decision.
type Server struct {
	addr      string
	evaluator Evaluator
	client    *http.Client
	logger    logpkg.Logger

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	running bool
}

// New constructs a proxy Server listening on addr.
func New(addr string, evaluator Evaluator, logger logpkg.Logger) *Server {
	return &Server{
		addr:      addr,
		evaluator: evaluator,
		logger:    logger,
		client: &http.Client{
			// The proxy relays redirects to the client instead of following them.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("proxy already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind proxy listener on %s: %w", s.addr, err)
	}

	s.ln = ln
	s.srv = &http.Server{Handler: s}
	s.running = true

	s.logger.Info(map[string]any{"address": ln.Addr().String()}, "proxy started")

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(map[string]any{"error": err.Error()}, "proxy serve failed")
		}
	}()

	return nil
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.srv.Close()
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// ServeHTTP implements the proxy loop: evaluate, then apply the decision.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		s.handleConnect(w, req)
		return
	}

	if !req.URL.IsAbs() {
		http.Error(w, "this is a forward proxy; request must use absolute-form URL", http.StatusBadRequest)
		return
	}

	decision := s.evaluator.Evaluate(domain.Request{
		URL:    req.URL.String(),
		Method: req.Method,
	})

	outURL := req.URL
	switch decision.Action {
	case domain.ActionBlock:
		s.logger.Debug(map[string]any{"host": decision.MatchedHost}, "request_blocked")
		http.Error(w, "blocked", http.StatusForbidden)
		return
	case domain.ActionRedirect:
		clean, err := url.Parse(decision.RedirectURL)
		if err != nil {
			// The engine produced it from a parsed URL; fall through untouched.
			s.logger.Error(map[string]any{"url": decision.RedirectURL, "error": err.Error()}, "redirect_url_unparseable")
		} else {
			s.logger.Debug(map[string]any{"url": clean.String()}, "request_cleaned")
			outURL = clean
		}
	}

	s.forward(w, req, outURL)
}

// forward relays the request upstream and streams the response back.
func (s *Server) forward(w http.ResponseWriter, req *http.Request, outURL *url.URL) {
	out, err := http.NewRequestWithContext(req.Context(), req.Method, outURL.String(), req.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	copyHeader(out.Header, req.Header)
	removeHopHeaders(out.Header)
	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		appendXForwardedFor(out.Header, clientIP)
	}
	s.applyPrivacySignal(out.Header)

	resp, err := s.client.Do(out)
	if err != nil {
		s.logger.Debug(map[string]any{"url": outURL.String(), "error": err.Error()}, "upstream_request_failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body) //nolint:errcheck // client may hang up mid-body
}

// handleConnect applies hostname blocking to HTTPS tunnels, then splices the
// client and destination connections together.
func (s *Server) handleConnect(w http.ResponseWriter, req *http.Request) {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	decision := s.evaluator.Evaluate(domain.Request{
		URL:    "https://" + host + "/",
		Method: http.MethodConnect,
	})
	if decision.Action == domain.ActionBlock {
		s.logger.Debug(map[string]any{"host": decision.MatchedHost}, "tunnel_blocked")
		http.Error(w, "blocked", http.StatusForbidden)
		return
	}

	destConn, err := net.DialTimeout("tcp", req.Host, 10*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		destConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		destConn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go splice(destConn, clientConn, &wg)
	go splice(clientConn, destConn, &wg)
	wg.Wait()
}

// applyPrivacySignal sets Sec-GPC: 1 on outgoing requests. The signal is
// orthogonal to the block/redirect decision; it is applied to every
// forwarded request unless the engine is globally disabled.
func (s *Server) applyPrivacySignal(h http.Header) {
	if s.evaluator.Enabled() {
		h.Set("Sec-GPC", "1")
	}
}

func splice(dst io.WriteCloser, src io.ReadCloser, wg *sync.WaitGroup) {
	defer wg.Done()
	defer dst.Close()
	defer src.Close()
	io.Copy(dst, src) //nolint:errcheck // either side may close first
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	// Headers named by the Connection header are hop-by-hop too; drop them
	// before the Connection header itself goes away.
	for _, f := range h.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, hh := range hopHeaders {
		h.Del(hh)
	}
}

func appendXForwardedFor(h http.Header, host string) {
	if prior, ok := h["X-Forwarded-For"]; ok {
		host = strings.Join(prior, ", ") + ", " + host
	}
	h.Set("X-Forwarded-For", host)
}
