package strategy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file and returns the validated Config plus the raw
// bytes. Unknown fields fail the load so typos never silently fall back to
// zero values.
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, data, err
	}

	return &cfg, data, nil
}

// Hash generates a SHA-256 hash of the config via canonical JSON. Structs
// marshal in declaration order, so equal configs always hash equal.
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// NewDecisionSnapshot creates a snapshot for the audit trail.
func NewDecisionSnapshot(cfg *Config, yamlData []byte, gitCommit, dataSnapshotID string) (*DecisionSnapshot, error) {
	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &DecisionSnapshot{
		ConfigHash:     hash,
		ConfigYAML:     string(yamlData),
		StrategyID:     cfg.Meta.StrategyID,
		GitCommit:      gitCommit,
		DataSnapshotID: dataSnapshotID,
		CreatedAt:      time.Now(),
	}, nil
}
