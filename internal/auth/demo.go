package auth

import (
	"path"
	"strings"
)

const (
	DefaultDemoPrefix = "/demo"
	DefaultHealthPath = "/health"
)

// DemoGate recognizes requests served from the demo company.
type DemoGate struct {
	prefix string
	exact  map[string]struct{}
}

// NewDemoGate matches prefix and everything below it, plus the exact paths.
func NewDemoGate(prefix string, exact ...string) DemoGate {
	g := DemoGate{
		prefix: strings.TrimSuffix(cleanPath(prefix), "/"),
		exact:  make(map[string]struct{}, len(exact)),
	}
	for _, p := range exact {
		g.exact[cleanPath(p)] = struct{}{}
	}
	return g
}

// DefaultDemoGate serves /demo, /demo/... and /health as demo.
func DefaultDemoGate() DemoGate {
	return NewDemoGate(DefaultDemoPrefix, DefaultHealthPath)
}

// IsDemoRequest reports whether the path is demo-designated. p must be the
// path the router matches on, still escaped. hasCredential does not influence
// the outcome: a demo path stays demo even when a credential is sent, and a
// non-demo path never becomes demo for lack of one.
//
// Paths with dot segments or repeated slashes are never demo. The router does
// not resolve them, so a cleaned form could name a route other than the one
// that serves the request.
func (g DemoGate) IsDemoRequest(p string, hasCredential bool) bool {
	p, ok := canonicalPath(p)
	if !ok {
		return false
	}
	if _, ok := g.exact[p]; ok {
		return true
	}
	if g.prefix == "" || g.prefix == "/" {
		return false
	}
	return p == g.prefix || strings.HasPrefix(p, g.prefix+"/")
}

// canonicalPath drops a single trailing slash and reports whether what is
// left is already clean.
func canonicalPath(p string) (string, bool) {
	if p == "" {
		return "/", true
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p, p[0] == '/' && path.Clean(p) == p
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
