package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// VolumeConfig requests attaching an existing volume after launch
type VolumeConfig struct {
	VolumeID string `yaml:"volume_id"`
	Device   string `yaml:"device"`
}

// Config contains application configuration
type Config struct {
	// AWS connection parameters
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// Instance parameters
	AvailabilityZone string            `yaml:"availability_zone"`
	ImageID          string            `yaml:"ami"`
	InstanceType     string            `yaml:"instance_type"`
	KeyName          string            `yaml:"keypair_name"`
	PrivateIP        string            `yaml:"private_ip"`
	SecurityGroups   []string          `yaml:"security_groups"`
	SubnetID         string            `yaml:"subnet_id"`
	Tags             map[string]string `yaml:"tags"`
	Volume           *VolumeConfig     `yaml:"volume"`

	// SSH access parameters
	SSHPort    int    `yaml:"ssh_port"`
	SSHUser    string `yaml:"ssh_user"`
	KeyDir     string `yaml:"key_dir"`
	SSHTimeout int    `yaml:"ssh_timeout"` // in seconds

	// Optional HTTP health endpoint checked instead of the SSH port
	HealthURL string `yaml:"health_url"`

	// Bootstrap actions executed once the instance is reachable
	SetupCommands  []string          `yaml:"setup_commands"`
	BootstrapFiles map[string]string `yaml:"bootstrap_files"` // local -> remote

	// Machine record persistence
	MachineName   string   `yaml:"machine_name"`
	StateDir      string   `yaml:"state_dir"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// SSHTimeoutDuration returns the configured SSH timeout as a duration
func (c *Config) SSHTimeoutDuration() time.Duration {
	return time.Duration(c.SSHTimeout) * time.Second
}

// Load loads configuration from YAML file
func Load() (*Config, error) {
	config := &Config{
		Region:       "us-east-1",
		InstanceType: "t3.micro",
		SSHPort:      22,
		SSHUser:      "ubuntu",
		SSHTimeout:   30,
		KeyDir:       ".vmforge/keys",
		StateDir:     ".vmforge/state",
		MachineName:  "default",
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "vmforge.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.Region = os.ExpandEnv(config.Region)
	config.AccessKey = os.ExpandEnv(config.AccessKey)
	config.SecretKey = os.ExpandEnv(config.SecretKey)
	config.AvailabilityZone = os.ExpandEnv(config.AvailabilityZone)
	config.ImageID = os.ExpandEnv(config.ImageID)
	config.KeyName = os.ExpandEnv(config.KeyName)
	config.SubnetID = os.ExpandEnv(config.SubnetID)

	// Expand environment variables in setup commands
	for i, cmd := range config.SetupCommands {
		config.SetupCommands[i] = os.ExpandEnv(cmd)
	}

	// Override with environment variables if set
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		config.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
		config.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Region = region
	}

	// Validate required parameters
	if config.ImageID == "" {
		return nil, fmt.Errorf("AMI is required (set ami in config file)")
	}
	if config.Region == "" {
		return nil, fmt.Errorf("region is required (set region in config file or AWS_REGION environment variable)")
	}
	if config.Volume != nil && (config.Volume.VolumeID == "" || config.Volume.Device == "") {
		return nil, fmt.Errorf("volume requires both volume_id and device")
	}

	return config, nil
}
