// Package brand holds the product identity compiled into vpcctl: its name,
// the tag stamped into iptables comments and the default directories.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

//go:embed brand.json
var identityJSON []byte

// Identity is the decoded brand.json.
type Identity struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultLogDir    string `json:"defaultLogDir"`
	BinaryName       string `json:"binaryName"`
	ConfigFileName   string `json:"configFileName"`
	CommentPrefix    string `json:"commentPrefix"`
}

var id = mustDecode(identityJSON)

var (
	Name            = id.Name
	LowerName       = id.LowerName
	Description     = id.Description
	ConfigEnvPrefix = id.ConfigEnvPrefix
	CommentPrefix   = id.CommentPrefix
	ConfigFileName  = id.ConfigFileName

	// Set with -ldflags at release time.
	Version   = "dev"
	GitCommit = "unknown"
)

func mustDecode(data []byte) Identity {
	var v Identity
	if err := json.Unmarshal(data, &v); err != nil {
		panic("brand.json: " + err.Error())
	}
	return v
}

// Get returns the embedded identity.
func Get() Identity { return id }

// Directory kinds understood by Dir.
const (
	ConfigDir = "config"
	StateDir  = "state"
	LogDir    = "log"
)

// Dir resolves a directory kind. VPCCTL_<KIND>_DIR wins, then
// VPCCTL_PREFIX/<kind>, then the compiled default.
func Dir(kind string) string {
	if v := os.Getenv(envName(strings.ToUpper(kind) + "_DIR")); v != "" {
		return v
	}
	if prefix := os.Getenv(envName("PREFIX")); prefix != "" {
		return filepath.Join(prefix, kind)
	}
	switch kind {
	case ConfigDir:
		return id.DefaultConfigDir
	case StateDir:
		return id.DefaultStateDir
	case LogDir:
		return id.DefaultLogDir
	}
	return ""
}

// DefaultConfigPath is the config file read when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(Dir(ConfigDir), ConfigFileName)
}

func envName(suffix string) string {
	return ConfigEnvPrefix + "_" + suffix
}
