package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "3o14"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host          string
		HttpPort      int    `yaml:"httpPort"`
		Domain        string `yaml:"domain"`
		Protocol      string `yaml:"protocol"`
		ServiceHandle string `yaml:"serviceHandle"`
		WithAp        bool   `yaml:"withAp"`
		Closed        bool   `yaml:"closed"`
	}
}

// Origin returns the public base origin of this server, e.g. "https://example.com".
func (c *AppConfig) Origin() string {
	protocol := c.Conf.Protocol
	if protocol == "" {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s", protocol, c.Conf.Domain)
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("B3014_HOST")
	envHttpPort := os.Getenv("B3014_HTTPPORT")
	envDomain := os.Getenv("B3014_DOMAIN")
	envProtocol := os.Getenv("B3014_PROTOCOL")
	envServiceHandle := os.Getenv("B3014_SERVICE_HANDLE")
	envWithAp := os.Getenv("B3014_WITH_AP")
	envClosed := os.Getenv("B3014_CLOSED")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envProtocol != "" {
		c.Conf.Protocol = envProtocol
	}

	if envServiceHandle != "" {
		c.Conf.ServiceHandle = envServiceHandle
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	if envClosed == "true" {
		c.Conf.Closed = true
	}

	return c, nil
}
