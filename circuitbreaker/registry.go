package circuitbreaker

import (
	"net/url"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry hands out one breaker per upstream host, created on first use
// from a shared template config.
type Registry struct {
	template Config
	breakers *xsync.MapOf[string, CircuitBreaker]
}

// NewRegistry creates a registry whose breakers use cfg with Host filled in.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		template: cfg,
		breakers: xsync.NewMapOf[string, CircuitBreaker](),
	}
}

// Get returns the breaker for host.
func (r *Registry) Get(host string) CircuitBreaker {
	cb, _ := r.breakers.LoadOrCompute(host, func() CircuitBreaker {
		cfg := r.template
		cfg.Host = host
		return New(cfg)
	})
	return cb
}

// ForURL returns the breaker for the host of rawURL. Unparsable URLs share
// the breaker keyed by the raw string.
func (r *Registry) ForURL(rawURL string) CircuitBreaker {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return r.Get(rawURL)
	}
	return r.Get(u.Host)
}

// Open returns the hosts whose breaker is currently OPEN.
func (r *Registry) Open() []string {
	var hosts []string
	r.breakers.Range(func(host string, cb CircuitBreaker) bool {
		if cb.State() == StateOpen {
			hosts = append(hosts, host)
		}
		return true
	})
	return hosts
}

// Len returns the number of tracked hosts.
func (r *Registry) Len() int {
	return r.breakers.Size()
}
