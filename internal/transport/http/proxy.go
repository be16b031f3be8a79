package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/astro-web3/records-gateway/internal/config"
	httpclient "github.com/astro-web3/records-gateway/pkg/http"
	"github.com/astro-web3/records-gateway/pkg/logger"
	"github.com/astro-web3/records-gateway/pkg/metrics"
	"github.com/gin-gonic/gin"
)

const (
	routeKey        = "gateway.route"
	headerRequestID = "X-Request-Id"
)

// hopHeaders are connection-scoped and never forwarded (RFC 9110 §7.6.1).
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

type Forwarder interface {
	Forward(ctx context.Context, req httpclient.ForwardRequest) (*http.Response, error)
}

type route struct {
	prefix      string
	target      *url.URL
	stripPrefix bool
}

func (r route) matches(path string) bool {
	if r.prefix == "/" {
		return true
	}
	return path == r.prefix || strings.HasPrefix(path, r.prefix+"/")
}

func (r route) targetURL(req *http.Request) string {
	path := req.URL.EscapedPath()
	if r.stripPrefix && r.prefix != "/" {
		path = strings.TrimPrefix(path, r.prefix)
		if path == "" {
			path = "/"
		}
	}

	target := strings.TrimRight(r.target.String(), "/") + path
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}
	return target
}

// Proxy resolves the upstream for a path and forwards the request to it.
type Proxy struct {
	routes         []route
	client         Forwarder
	usernameHeader string
	rolesHeader    string
}

func NewProxy(upstreams []config.Upstream, client Forwarder, usernameHeader, rolesHeader string) (*Proxy, error) {
	routes := make([]route, 0, len(upstreams))
	for _, u := range upstreams {
		target, err := url.Parse(u.URL)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: invalid url: %w", u.Prefix, err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("upstream %s: url %q needs scheme and host", u.Prefix, u.URL)
		}
		prefix := u.Prefix
		if len(prefix) > 1 {
			prefix = strings.TrimRight(prefix, "/")
		}
		routes = append(routes, route{prefix: prefix, target: target, stripPrefix: u.StripPrefix})
	}

	// Longest prefix first.
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	return &Proxy{
		routes:         routes,
		client:         client,
		usernameHeader: usernameHeader,
		rolesHeader:    rolesHeader,
	}, nil
}

func (p *Proxy) match(path string) (route, bool) {
	for _, r := range p.routes {
		if r.matches(path) {
			return r, true
		}
	}
	return route{}, false
}

// Route rejects paths no upstream serves before any authentication work.
func (p *Proxy) Route(c *gin.Context) {
	r, ok := p.match(c.Request.URL.Path)
	if !ok {
		abortWithStatus(c, http.StatusNotFound, "route_not_found", "no upstream serves this path")
		return
	}
	c.Set(routeKey, r)
	c.Next()
}

// Forward sends a copy of the request upstream and streams the answer back.
// The inbound request is not modified.
func (p *Proxy) Forward(c *gin.Context) {
	ctx := c.Request.Context()

	v, ok := c.Get(routeKey)
	if !ok {
		abortWithStatus(c, http.StatusNotFound, "route_not_found", "no upstream serves this path")
		return
	}
	r, _ := v.(route)

	var body io.Reader
	if c.Request.Body != nil && c.Request.Body != http.NoBody && c.Request.ContentLength != 0 {
		body = c.Request.Body
	}

	start := time.Now()
	resp, err := p.client.Forward(ctx, httpclient.ForwardRequest{
		Method: c.Request.Method,
		URL:    r.targetURL(c.Request),
		Header: p.outboundHeader(c),
		Body:   body,
	})
	if err != nil {
		metrics.ObserveUpstream(r.prefix, 0, time.Since(start))
		logger.ErrorContext(ctx, "upstream request failed",
			slog.String("upstream", r.target.Host),
			slog.String("error", err.Error()),
		)
		abortWithStatus(c, http.StatusBadGateway, "upstream_unavailable", "upstream service unavailable")
		return
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(r.prefix, resp.StatusCode, time.Since(start))

	dst := c.Writer.Header()
	for k, vs := range resp.Header {
		if k == headerRequestID {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	removeHopHeaders(dst)

	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logger.WarnContext(ctx, "failed to stream upstream response", slog.String("error", err.Error()))
	}
}

// outboundHeader builds the upstream header set. Identity headers supplied by
// the client are always dropped; only the gate's identity is sent.
func (p *Proxy) outboundHeader(c *gin.Context) http.Header {
	header := c.Request.Header.Clone()
	removeHopHeaders(header)

	header.Del(p.usernameHeader)
	if p.rolesHeader != "" {
		header.Del(p.rolesHeader)
	}

	if identity := IdentityFrom(c); identity != nil {
		header.Set(p.usernameHeader, identity.Username)
		if p.rolesHeader != "" && len(identity.Roles) > 0 {
			header.Set(p.rolesHeader, strings.Join(identity.Roles, ","))
		}
	}

	if clientIP, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		header.Set("X-Forwarded-For", clientIP)
	}
	if c.Request.Host != "" {
		header.Set("X-Forwarded-Host", c.Request.Host)
	}
	if id := logger.RequestID(c.Request.Context()); id != "" {
		header.Set(headerRequestID, id)
	}
	return header
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
