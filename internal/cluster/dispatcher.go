package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voicenexus/voicenexus/internal/tts"
)

// Dispatcher forwards each request to the next backend in round-robin
// order. It does not retry and does not skip backends that are down.
type Dispatcher struct {
	backends []*url.URL
	cursor   atomic.Uint64
	proxy    *httputil.ReverseProxy
	logger   *log.Logger
}

type unreachableResponse struct {
	Detail  string        `json:"detail"`
	Code    tts.ErrorCode `json:"code"`
	Backend string        `json:"backend"`
}

type dispatcherStatus struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends"`
	Mode     string   `json:"mode"`
}

// NewDispatcher returns a dispatcher over the given backend base URLs. A
// positive timeout bounds the wait for each backend's response headers.
func NewDispatcher(backends []string, timeout time.Duration) (*Dispatcher, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}

	d := &Dispatcher{logger: log.WithPrefix("dispatcher")}
	for _, raw := range backends {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid backend %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid backend %q: scheme and host are required", raw)
		}
		d.backends = append(d.backends, u)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}

	d.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(d.Next())
			pr.SetXForwarded()
		},
		Transport:    transport,
		ErrorHandler: d.unreachable,
	}
	return d, nil
}

// Next returns the backend for the next request.
func (d *Dispatcher) Next() *url.URL {
	n := uint64(len(d.backends))
	return d.backends[(d.cursor.Add(1)-1)%n]
}

// Backends returns the backend base URLs in dispatch order.
func (d *Dispatcher) Backends() []string {
	out := make([]string, len(d.backends))
	for i, u := range d.backends {
		out[i] = u.String()
	}
	return out
}

// ServeHTTP answers GET / itself and proxies everything else.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/" {
		writeJSON(w, http.StatusOK, dispatcherStatus{
			Status:   "running",
			Backends: d.Backends(),
			Mode:     "load_balancer",
		})
		return
	}
	d.proxy.ServeHTTP(w, r)
}

func (d *Dispatcher) unreachable(w http.ResponseWriter, r *http.Request, err error) {
	backend := r.URL.Scheme + "://" + r.URL.Host
	if errors.Is(err, context.Canceled) {
		d.logger.Debug("Client went away", "backend", backend, "path", r.URL.Path)
		w.WriteHeader(499)
		return
	}
	d.logger.Error("Backend unreachable", "backend", backend, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusBadGateway, unreachableResponse{
		Detail:  "backend instance unreachable: " + err.Error(),
		Code:    tts.ErrorCodeInstanceUnreachable,
		Backend: backend,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ProxyServer serves a Dispatcher and stops as a lifecycle Component.
type ProxyServer struct {
	srv *http.Server
}

// NewProxyServer returns a server for handler on addr.
func NewProxyServer(addr string, handler http.Handler) *ProxyServer {
	return &ProxyServer{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Name implements Component.
func (p *ProxyServer) Name() string {
	return "dispatcher"
}

// Addr returns the listen address.
func (p *ProxyServer) Addr() string {
	return p.srv.Addr
}

// Serve accepts connections on ln until shut down.
func (p *ProxyServer) Serve(ln net.Listener) error {
	log.Info("Dispatcher listening", "addr", ln.Addr().String())
	if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (p *ProxyServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", p.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.srv.Addr, err)
	}
	return p.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (p *ProxyServer) Shutdown(ctx context.Context) error {
	return p.srv.Shutdown(ctx)
}

// ForceStop closes every connection.
func (p *ProxyServer) ForceStop() error {
	return p.srv.Close()
}
