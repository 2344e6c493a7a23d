// Package config loads the participant keys and network used by the bridge
// tooling. Protocol constants (fees, dust, timelocks) live in
// internal/bridge/graphs and are not configurable.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/klingon-exchange/klingbridge/internal/bridge/contexts"
	"github.com/klingon-exchange/klingbridge/internal/chain"
	"gopkg.in/yaml.v3"
)

// Config errors
var (
	ErrMissingOperatorKey = errors.New("operator public key not configured")
	ErrMissingOneTimeKey  = errors.New("operator one-time public key not configured")
	ErrNoVerifiers        = errors.New("no verifier public keys configured")
	ErrMissingSecretKey   = errors.New("secret key not configured")
	ErrSecretKeyMismatch  = errors.New("secret key does not match configured public key")
	ErrWrongNetworkKey    = errors.New("secret key is encoded for another network")
)

// Config holds the bridge participants and network.
type Config struct {
	// Network is mainnet, testnet, signet or regtest.
	Network string `yaml:"network"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Operator is the operator whose graph is being built.
	Operator OperatorConfig `yaml:"operator"`

	// Verifier holds this participant's secret when acting as a verifier.
	Verifier VerifierConfig `yaml:"verifier,omitempty"`

	// Verifiers are the hex-encoded compressed public keys of the N-of-N.
	Verifiers []string `yaml:"verifiers"`
}

// OperatorConfig holds the operator keys.
type OperatorConfig struct {
	// PublicKey is the hex-encoded 33-byte compressed key.
	PublicKey string `yaml:"public_key"`

	// OneTimePublicKey is the hex-encoded one-time-signature commitment data.
	OneTimePublicKey string `yaml:"one_time_public_key"`

	// SecretKey is the WIF-encoded operator key, only set on the operator.
	SecretKey string `yaml:"secret_key,omitempty"`
}

// VerifierConfig holds a verifier secret.
type VerifierConfig struct {
	// SecretKey is the WIF-encoded verifier key.
	SecretKey string `yaml:"secret_key,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: string(chain.Testnet),
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Verifiers: []string{},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "bridge.yaml"

// LoadConfig loads configuration from a YAML file in dataDir.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from an existing YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Bridge transaction tooling configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	// Secrets may be present.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// ChainNetwork returns the configured network.
func (c *Config) ChainNetwork() (chain.Network, error) {
	return chain.ParseNetwork(c.Network)
}

// OperatorPublicKey returns the configured operator key.
func (c *Config) OperatorPublicKey() (*btcec.PublicKey, error) {
	if c.Operator.PublicKey == "" {
		return nil, ErrMissingOperatorKey
	}
	return contexts.ParsePublicKey(c.Operator.PublicKey)
}

// OneTimePublicKey returns the configured one-time public key bytes.
func (c *Config) OneTimePublicKey() ([]byte, error) {
	if c.Operator.OneTimePublicKey == "" {
		return nil, ErrMissingOneTimeKey
	}
	raw, err := hex.DecodeString(c.Operator.OneTimePublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid one-time public key: %w", err)
	}
	return raw, nil
}

// VerifierPublicKeys returns the configured N-of-N member keys.
func (c *Config) VerifierPublicKeys() ([]*btcec.PublicKey, error) {
	if len(c.Verifiers) == 0 {
		return nil, ErrNoVerifiers
	}
	keys := make([]*btcec.PublicKey, 0, len(c.Verifiers))
	for i, s := range c.Verifiers {
		key, err := contexts.ParsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("verifier %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// OperatorPublic builds the operator's public context.
func (c *Config) OperatorPublic() (*contexts.OperatorPublic, error) {
	network, operatorKey, ots, verifiers, err := c.publicInputs()
	if err != nil {
		return nil, err
	}
	return contexts.NewOperatorPublic(network, operatorKey, ots, verifiers)
}

// OperatorContext builds the operator's signing context from the configured
// secret key, which must match the configured operator public key.
func (c *Config) OperatorContext() (*contexts.OperatorContext, error) {
	network, operatorKey, ots, verifiers, err := c.publicInputs()
	if err != nil {
		return nil, err
	}
	secret, err := decodeSecret(c.Operator.SecretKey, network)
	if err != nil {
		return nil, fmt.Errorf("operator: %w", err)
	}
	if !secret.PubKey().IsEqual(operatorKey) {
		return nil, fmt.Errorf("operator: %w", ErrSecretKeyMismatch)
	}
	return contexts.NewOperatorContext(network, secret, ots, verifiers)
}

// VerifierContext builds this participant's verifier signing context.
func (c *Config) VerifierContext() (*contexts.VerifierContext, error) {
	network, operatorKey, ots, verifiers, err := c.publicInputs()
	if err != nil {
		return nil, err
	}
	secret, err := decodeSecret(c.Verifier.SecretKey, network)
	if err != nil {
		return nil, fmt.Errorf("verifier: %w", err)
	}
	return contexts.NewVerifierContext(network, secret, operatorKey, ots, verifiers)
}

// Validate checks that every public input parses.
func (c *Config) Validate() error {
	_, _, _, _, err := c.publicInputs()
	return err
}

func (c *Config) publicInputs() (chain.Network, *btcec.PublicKey, []byte, []*btcec.PublicKey, error) {
	network, err := c.ChainNetwork()
	if err != nil {
		return "", nil, nil, nil, err
	}
	operatorKey, err := c.OperatorPublicKey()
	if err != nil {
		return "", nil, nil, nil, err
	}
	ots, err := c.OneTimePublicKey()
	if err != nil {
		return "", nil, nil, nil, err
	}
	verifiers, err := c.VerifierPublicKeys()
	if err != nil {
		return "", nil, nil, nil, err
	}
	return network, operatorKey, ots, verifiers, nil
}

func decodeSecret(wif string, network chain.Network) (*btcec.PrivateKey, error) {
	if wif == "" {
		return nil, ErrMissingSecretKey
	}
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF: %w", err)
	}
	params, err := chain.ChainParams(network)
	if err != nil {
		return nil, err
	}
	if !decoded.IsForNet(params) {
		return nil, ErrWrongNetworkKey
	}
	return decoded.PrivKey, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
