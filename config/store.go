package config

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// hotKeys are the settings a reload may change on a running server.
var hotKeys = map[string]bool{
	"authMethod":     true,
	"passKey":        true,
	"logPackets":     true,
	"defaultBanTime": true,
	"svWelcomeMsg":   true,
}

// HotReloadable reports whether key takes effect without a restart.
func HotReloadable(key string) bool {
	return hotKeys[key]
}

// Store holds the live settings snapshot. Snapshots are never mutated after
// they are published, so readers may keep the pointer Get returns.
type Store struct {
	current atomic.Pointer[Config]
	applyMu sync.Mutex
}

// NewStore publishes cfg as the first snapshot.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	snapshot := *cfg
	s.current.Store(&snapshot)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// AuthMethod returns the handshake currently in force.
func (s *Store) AuthMethod() AuthMethod {
	return s.Get().AuthMethod
}

// Password returns the server password used by the Full handshake.
func (s *Store) Password() string {
	return s.Get().PassKey
}

// LogPackets reports whether inbound packets are logged.
func (s *Store) LogPackets() bool {
	return s.Get().LogPackets
}

// DefaultBanTime returns the ban duration used when a kick names none.
func (s *Store) DefaultBanTime() time.Duration {
	return s.Get().DefaultBanTime
}

// WelcomeMessage returns the text sent after the server info packet.
func (s *Store) WelcomeMessage() string {
	return s.Get().WelcomeMessage
}

// Apply publishes the hot-reloadable settings of next. Keys that differ but
// need a restart are reported in ignored and left at their running values.
//
// Parameters:
//   - next: Freshly loaded settings
//
// Returns:
//   - changed: Keys whose new values are now live
//   - ignored: Keys that differ but require a restart
//   - err: Validation error; nothing is published when set
func (s *Store) Apply(next *Config) (changed, ignored []string, err error) {
	if err := next.Validate(); err != nil {
		return nil, nil, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	merged := *s.Get()
	dst := reflect.ValueOf(&merged).Elem()
	src := reflect.ValueOf(next).Elem()
	t := dst.Type()

	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(dst.Field(i).Interface(), src.Field(i).Interface()) {
			continue
		}

		key := t.Field(i).Tag.Get("yaml")
		if !hotKeys[key] {
			ignored = append(ignored, key)
			continue
		}

		dst.Field(i).Set(src.Field(i))
		changed = append(changed, key)
	}

	if len(changed) > 0 {
		s.current.Store(&merged)
	}

	return changed, ignored, nil
}
