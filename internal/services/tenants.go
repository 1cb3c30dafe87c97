package services

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/logger"
)

// ErrUnknownHost is returned by Acquire for a host that has no tenant.
var ErrUnknownHost = errors.New("unknown tenant host")

// OpenFunc opens the store at path and builds the service over it. The
// returned closer releases the store.
type OpenFunc func(path string) (*TicketService, io.Closer, error)

// tenant holds one opened store and the service bound to it.
type tenant struct {
	service      *TicketService
	closer       io.Closer
	lastActivity time.Time
	inflight     int
}

// Tenants maps request hosts to lazily opened per-tenant services.
type Tenants struct {
	mu          sync.RWMutex
	tenants     map[string]*tenant // Key: store path
	hosts       map[string]string  // Key: host without port
	defaultPath string
	open        OpenFunc
}

// NewTenants creates a registry. With an empty hosts table every request is
// served from defaultPath; otherwise only the listed hosts are accepted.
func NewTenants(defaultPath string, hosts map[string]string, open OpenFunc) *Tenants {
	table := make(map[string]string, len(hosts))
	for host, path := range hosts {
		table[strings.ToLower(host)] = path
	}
	return &Tenants{
		tenants:     make(map[string]*tenant),
		hosts:       table,
		defaultPath: defaultPath,
		open:        open,
	}
}

// Acquire returns the service for the request host, opening its store on
// first use. The tenant is not closed as idle until release is called.
func (t *Tenants) Acquire(host string) (service *TicketService, release func(), err error) {
	path, err := t.pathFor(host)
	if err != nil {
		return nil, nil, err
	}
	entry, err := t.get(path)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return entry.service, func() { once.Do(func() { t.release(entry) }) }, nil
}

func (t *Tenants) pathFor(host string) (string, error) {
	if len(t.hosts) == 0 {
		return t.defaultPath, nil
	}
	name := strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = strings.ToLower(h)
	}
	path, ok := t.hosts[name]
	if !ok {
		return "", fmt.Errorf("%w: %w %q", ErrBadRequest, ErrUnknownHost, host)
	}
	return path, nil
}

// get returns the tenant for path, creating it if it doesn't exist, and
// counts the caller as in flight.
func (t *Tenants) get(path string) (*tenant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.tenants[path]
	if !exists {
		service, closer, err := t.open(path)
		if err != nil {
			logger.Errorf("Failed to open tenant store %s: %v", path, err)
			return nil, internal(err)
		}
		entry = &tenant{service: service, closer: closer}
		t.tenants[path] = entry
		logger.Infof("Opened tenant store: %s", path)
	}
	entry.inflight++
	entry.lastActivity = time.Now()
	return entry, nil
}

func (t *Tenants) release(entry *tenant) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry.inflight--
	entry.lastActivity = time.Now()
}

// Each calls fn for every open tenant service. Each tenant counts as in
// flight while fn runs.
func (t *Tenants) Each(fn func(path string, service *TicketService)) {
	t.mu.Lock()
	open := make(map[string]*tenant, len(t.tenants))
	for path, entry := range t.tenants {
		entry.inflight++
		open[path] = entry
	}
	t.mu.Unlock()

	for path, entry := range open {
		fn(path, entry.service)
		t.release(entry)
	}
}

// CloseIdle closes tenants with no request in flight that have been inactive
// for longer than maxIdle, and returns how many were closed. They are
// reopened on their next request.
func (t *Tenants) CloseIdle(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	closed := 0
	for path, entry := range t.tenants {
		if entry.inflight == 0 && time.Since(entry.lastActivity) > maxIdle {
			t.closeLocked(path, entry)
			closed++
		}
	}
	return closed
}

// CloseAll closes every open tenant.
func (t *Tenants) CloseAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for path, entry := range t.tenants {
		if err := t.closeLocked(path, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tenants) closeLocked(path string, entry *tenant) error {
	delete(t.tenants, path)
	if entry.closer == nil {
		return nil
	}
	if err := entry.closer.Close(); err != nil {
		logger.Errorf("Failed to close tenant store %s: %v", path, err)
		return fmt.Errorf("failed to close tenant %s: %w", path, err)
	}
	return nil
}
