package config

import "time"

type Session struct {
	gateMode         string
	idleTTL          time.Duration
	evictionInterval time.Duration
}

var _ SessionConfig = Session{}

// GetGateMode returns "global" or "identity"; empty means global.
func (s Session) GetGateMode() string {
	return s.gateMode
}

// GetSessionIdleTTL returns how long a session may sit unused before it is
// evicted. Zero disables eviction.
func (s Session) GetSessionIdleTTL() time.Duration {
	return s.idleTTL
}

func (s Session) GetEvictionInterval() time.Duration {
	return s.evictionInterval
}
