package store

import (
	"encoding/json"
	"os"

	"github.com/joestump/pplxpool/internal/pool"
)

// TokenRecord is one entry of the master config file's token list: the
// durable identity and credentials a pool.Client is rebuilt from on start.
// Fields the running binary doesn't understand yet are round-tripped via
// Extra rather than dropped, so operators can hand-edit the file with a
// newer schema in mind without the older binary destroying it on save.
type TokenRecord struct {
	ID           string
	CSRFToken    string
	SessionToken string
	Enabled      bool
	Extra        map[string]json.RawMessage
}

// knownTokenFields are the keys TokenRecord gives first-class treatment;
// everything else in a tokens[] object round-trips through Extra.
var knownTokenFields = map[string]bool{
	"id": true, "csrf_token": true, "session_token": true, "enabled": true,
}

// MarshalJSON emits the known fields plus whatever Extra carried in.
func (t TokenRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(t.Extra)+4)
	for k, v := range t.Extra {
		m[k] = v
	}
	enc := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	m["id"] = enc(t.ID)
	m["csrf_token"] = enc(t.CSRFToken)
	m["session_token"] = enc(t.SessionToken)
	m["enabled"] = enc(t.Enabled)
	return json.Marshal(m)
}

// UnmarshalJSON populates the known fields and stashes everything else in
// Extra so a future schema addition round-trips even through this binary.
func (t *TokenRecord) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["id"]; ok {
		_ = json.Unmarshal(raw, &t.ID)
	}
	if raw, ok := m["csrf_token"]; ok {
		_ = json.Unmarshal(raw, &t.CSRFToken)
	}
	if raw, ok := m["session_token"]; ok {
		_ = json.Unmarshal(raw, &t.SessionToken)
	}
	if raw, ok := m["enabled"]; ok {
		_ = json.Unmarshal(raw, &t.Enabled)
	}
	t.Extra = make(map[string]json.RawMessage)
	for k, v := range m {
		if !knownTokenFields[k] {
			t.Extra[k] = v
		}
	}
	return nil
}

// configFile is the on-disk shape of the master config (§3 token_pool
// config, C7). Keep the json tags stable; they are the persisted schema.
type configFile struct {
	Tokens   []TokenRecord       `json:"tokens"`
	Monitor  pool.MonitorConfig  `json:"monitor"`
	Fallback pool.FallbackConfig `json:"fallback"`
}

// ConfigStore reads and atomically writes the master config file.
type ConfigStore struct {
	Path string
}

// NewConfigStore builds a store bound to path. The file need not exist yet.
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{Path: path}
}

// Load reads the config file. A missing file returns no tokens, a
// zero-value monitor config, the default fallback config
// (fallback_to_auto enabled) and no error, matching a fresh install with
// no tokens configured yet. A file without a fallback_to_auto key also
// loads with fallback_to_auto enabled.
func (s *ConfigStore) Load() (tokens []TokenRecord, monitor pool.MonitorConfig, fallback pool.FallbackConfig, err error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, pool.MonitorConfig{}, pool.FallbackConfig{FallbackToAuto: true}, nil
	}
	if err != nil {
		return nil, pool.MonitorConfig{}, pool.FallbackConfig{}, err
	}

	cf := configFile{Fallback: pool.FallbackConfig{FallbackToAuto: true}}
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, pool.MonitorConfig{}, pool.FallbackConfig{}, err
	}
	return cf.Tokens, cf.Monitor, cf.Fallback, nil
}

// Save writes the given tokens and configuration atomically.
func (s *ConfigStore) Save(tokens []TokenRecord, monitor pool.MonitorConfig, fallback pool.FallbackConfig) error {
	cf := configFile{Tokens: tokens, Monitor: monitor, Fallback: fallback}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.Path, data)
}

// TokensFromPool builds the token record list a Save call needs from a
// live pool, preserving each client's Extra passthrough if the caller
// tracks it separately (the pool itself has no concept of Extra).
func TokensFromPool(p *pool.Pool) []TokenRecord {
	clients := p.Snapshot()
	out := make([]TokenRecord, 0, len(clients))
	for _, c := range clients {
		out = append(out, TokenRecord{
			ID:           c.ID,
			CSRFToken:    c.Credentials.CSRFToken,
			SessionToken: c.Credentials.SessionToken,
			Enabled:      c.Enabled,
		})
	}
	return out
}
