package control

import "time"

// Controller is the control channel into a provisioned instance, used for
// bootstrap commands and file uploads once connectivity is confirmed
type Controller interface {
	// Close closes the connection
	Close() error

	// Run executes a command on the remote host
	Run(command string) error

	// Upload copies a local file to the remote host over SFTP
	Upload(localPath, remotePath string) error

	// InstanceName returns the name of the controlled instance
	InstanceName() string
}

// Config defines configuration for creating controllers
type Config struct {
	Host           string
	Port           int
	User           string
	PrivateKey     string // PEM-encoded private key content (preferred)
	PrivateKeyPath string // Path to private key file
	SSHTimeout     time.Duration
	InstanceName   string
}

// Factory creates a controller for a reachable instance
type Factory func(config Config) (Controller, error)

// NewController creates a new controller based on the config. SSH is the
// only supported transport.
func NewController(config Config) (Controller, error) {
	return NewSSH(config)
}
