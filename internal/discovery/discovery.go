// Package discovery implements the LAN presence layer: advertising a
// shared Box over mDNS/DNS-SD as
// _shadowbox<CODE>._tcp.local, browsing for peers' advertisements, and
// resolving a share code to a host/port pair.
package discovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"shadowbox/internal/sberr"
)

const (
	serviceDomain = "local."
	// codeAlphabet is the 26-letter uppercase alphabet a share code is
	// drawn from, giving 26^4 = 456976 possible 4-letter codes.
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength        = 4
	defaultResolveTTL = 3 * time.Second
)

// EventKind distinguishes the three mDNS browse events.
type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventRemoved
)

// Event is one observed change in a peer's LAN advertisement.
type Event struct {
	Kind EventKind
	Code string
	Host string
	Port int
	TXT  map[string]string
}

// Manager owns every advertisement this process has published and the
// resolver used to browse/resolve peers' advertisements.
type Manager struct {
	logger *zap.SugaredLogger

	mu  sync.Mutex
	ads map[string]*zeroconf.Server
}

// New returns a Manager ready to advertise and browse.
func New(logger *zap.SugaredLogger) *Manager {
	return &Manager{logger: logger, ads: make(map[string]*zeroconf.Server)}
}

// NewCode generates a fresh 4-letter uppercase alphabetic share code.
func NewCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", sberr.NewError("discovery.NewCode", sberr.KindIOError, err)
	}
	out := make([]byte, codeLength)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}

func serviceName(code string) string {
	return fmt.Sprintf("_shadowbox%s._tcp", strings.ToUpper(code))
}

// Advertise publishes boxID's share over mDNS under a fresh code, and
// returns that code. The caller withdraws it by calling Withdraw(code) or
// Manager.Close.
func (m *Manager) Advertise(ctx context.Context, boxID string, port int, public bool) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}

	publicFlag := "0"
	if public {
		publicFlag = "1"
	}
	txt := []string{
		"box_id=" + boxID,
		"public=" + publicFlag,
	}
	server, err := zeroconf.Register(boxID, serviceName(code), serviceDomain, port, txt, nil)
	if err != nil {
		return "", sberr.NewError("discovery.Advertise", sberr.KindIOError, err)
	}

	m.mu.Lock()
	m.ads[code] = server
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Infow("advertising box on LAN", "box_id", boxID, "code", code, "port", port)
	}
	return code, nil
}

// Withdraw stops advertising a previously-advertised code.
func (m *Manager) Withdraw(code string) {
	m.mu.Lock()
	server, ok := m.ads[code]
	if ok {
		delete(m.ads, code)
	}
	m.mu.Unlock()
	if ok {
		server.Shutdown()
	}
}

// Close withdraws every advertisement this Manager published.
func (m *Manager) Close() {
	m.mu.Lock()
	ads := m.ads
	m.ads = make(map[string]*zeroconf.Server)
	m.mu.Unlock()
	for _, server := range ads {
		server.Shutdown()
	}
}

// Resolve looks up a single share code's host/port, timing out after
// defaultResolveTTL if no peer answers.
func (m *Manager) Resolve(ctx context.Context, code string) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultResolveTTL)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, sberr.NewError("discovery.Resolve", sberr.KindIOError, err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, serviceName(code), serviceDomain, entries); err != nil {
		return nil, sberr.NewError("discovery.Resolve", sberr.KindIOError, err)
	}

	select {
	case entry := <-entries:
		if entry == nil {
			return nil, sberr.NewError("discovery.Resolve", sberr.KindNotFound, nil)
		}
		return entryToEvent(code, EventAdded, entry), nil
	case <-ctx.Done():
		return nil, sberr.NewError("discovery.Resolve", sberr.KindTimeout, ctx.Err())
	}
}

// Browse streams an event for each ShadowBox advertisement entry the
// resolver reports until ctx is cancelled. Every entry is sent as
// EventUpdated; EventAdded and EventRemoved are not emitted, so a withdrawn
// advertisement is not reported. The Manager does not filter by code;
// callers interested in one code should match on Event.Code.
func (m *Manager) Browse(ctx context.Context) (<-chan Event, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, sberr.NewError("discovery.Browse", sberr.KindIOError, err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	out := make(chan Event)

	if err := resolver.Browse(ctx, "_shadowbox*._tcp", serviceDomain, entries); err != nil {
		return nil, sberr.NewError("discovery.Browse", sberr.KindIOError, err)
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				code := codeFromServiceInstance(entry.Service)
				select {
				case out <- *entryToEvent(code, EventUpdated, entry):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func codeFromServiceInstance(serviceType string) string {
	serviceType = strings.TrimPrefix(serviceType, "_shadowbox")
	return strings.TrimSuffix(serviceType, "._tcp")
}

func entryToEvent(code string, kind EventKind, entry *zeroconf.ServiceEntry) *Event {
	txt := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			txt[kv[:idx]] = kv[idx+1:]
		}
	}
	host := entry.HostName
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	}
	return &Event{Kind: kind, Code: code, Host: host, Port: entry.Port, TXT: txt}
}
