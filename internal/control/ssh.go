package control

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vmforge/internal/logging"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSH is a control channel over an SSH connection
type SSH struct {
	client       *ssh.Client
	sftpClient   *sftp.Client
	host         string
	user         string
	instanceName string
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// NewSSH opens an SSH connection to an instance whose connectivity has
// already been confirmed by the provisioning wait
func NewSSH(config Config) (*SSH, error) {
	var signer ssh.Signer
	var err error
	switch {
	case config.PrivateKey != "":
		signer, err = parsePrivateKey(config.PrivateKey)
	case config.PrivateKeyPath != "":
		signer, err = loadPrivateKeyFromFile(config.PrivateKeyPath)
	default:
		return nil, fmt.Errorf("either PrivateKey or PrivateKeyPath must be provided")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Host keys are fresh on every provisioned instance
		Timeout:         config.SSHTimeout,
	}

	port := config.Port
	if port == 0 {
		port = 22
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(config.Host, strconv.Itoa(port)), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host),
		zap.String("instance_name", config.InstanceName))

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &SSH{
		client:       client,
		sftpClient:   sftpClient,
		host:         config.Host,
		user:         config.User,
		instanceName: config.InstanceName,
	}, nil
}

// Close closes the SFTP and SSH connections
func (s *SSH) Close() error {
	if s.sftpClient != nil {
		safeClose("SFTP client", s.sftpClient.Close)
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// InstanceName returns the instance name
func (s *SSH) InstanceName() string {
	return s.instanceName
}

// Run executes a command on the remote host
func (s *SSH) Run(command string) error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName))

	err = session.Run(command)

	logging.Logger().Info("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdout.String()))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderr.String()))),
		zap.Bool("success", err == nil))

	return err
}

// Upload copies a local file to the remote host over SFTP, creating parent
// directories as needed
func (s *SSH) Upload(localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer safeClose("local file", localFile.Close)

	if dir := filepath.ToSlash(filepath.Dir(remotePath)); dir != "." && dir != "/" {
		if err := s.sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory: %w", err)
		}
	}

	remoteFile, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer safeClose("remote file", remoteFile.Close)

	bytesWritten, err := remoteFile.ReadFrom(localFile)
	if err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	logging.Logger().Info("File uploaded using SFTP",
		zap.String("local_path", localPath),
		zap.String("remote_path", remotePath),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.Int64("size_bytes", bytesWritten))

	return nil
}

// parsePrivateKey parses SSH private key from PEM-encoded string
func parsePrivateKey(privateKeyPEM string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// loadPrivateKeyFromFile loads SSH private key from file
func loadPrivateKeyFromFile(privateKeyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return parsePrivateKey(string(keyBytes))
}
