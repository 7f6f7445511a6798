// Tool server configuration file support.
//
// Two formats are accepted, and may be mixed in one file:
//
//	{
//	  "tools": {
//	    "calculator": "servers/calculator.py"
//	  },
//	  "mcpServers": {
//	    "memory": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-memory"]
//	    }
//	  }
//	}
//
// Script paths are resolved relative to the file. Servers keep file order.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/richinex/toolweave/internal/errs"
)

// ServerEntry is one configured server. Exactly one of Path and Spec is set.
type ServerEntry struct {
	Name string
	Path string
	Spec *ServerSpec
}

// Config represents a tools configuration file.
type Config struct {
	Servers []ServerEntry
}

type rawConfig struct {
	Tools      json.RawMessage `json:"tools"`
	MCPServers json.RawMessage `json:"mcpServers"`
}

// LoadConfig loads a tools file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("failed to read tools file", err).With("path", path)
	}
	cfg, err := ParseConfig(data, filepath.Dir(path))
	if err != nil {
		return nil, errs.Configuration("failed to parse tools file "+path, err)
	}
	return cfg, nil
}

// ParseConfig parses tools file content. Relative script paths are joined
// to baseDir.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if len(raw.Tools) > 0 {
		keys, err := orderedKeys(raw.Tools)
		if err != nil {
			return nil, fmt.Errorf("tools: %w", err)
		}
		var paths map[string]string
		if err := json.Unmarshal(raw.Tools, &paths); err != nil {
			return nil, fmt.Errorf("tools: %w", err)
		}
		for _, name := range keys {
			p := paths[name]
			if !filepath.IsAbs(p) && baseDir != "" {
				p = filepath.Join(baseDir, p)
			}
			cfg.Servers = append(cfg.Servers, ServerEntry{Name: name, Path: p})
		}
	}

	if len(raw.MCPServers) > 0 {
		keys, err := orderedKeys(raw.MCPServers)
		if err != nil {
			return nil, fmt.Errorf("mcpServers: %w", err)
		}
		var specs map[string]ServerSpec
		if err := json.Unmarshal(raw.MCPServers, &specs); err != nil {
			return nil, fmt.Errorf("mcpServers: %w", err)
		}
		for _, name := range keys {
			spec := specs[name]
			cfg.Servers = append(cfg.Servers, ServerEntry{Name: name, Spec: &spec})
		}
	}
	return cfg, nil
}

// Register hands every entry to l, stopping at the first error.
func (c *Config) Register(l *Launcher) error {
	for _, s := range c.Servers {
		var err error
		if s.Spec != nil {
			err = l.RegisterCommand(s.Name, *s.Spec)
		} else {
			err = l.RegisterServer(s.Name, s.Path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// orderedKeys returns the keys of a JSON object in document order.
func orderedKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
