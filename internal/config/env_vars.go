package config

import (
	"strings"
	"time"
)

type EnvVars struct {
	port            string
	appName         string
	env             string
	dataFolder      string
	shutdownTimeout time.Duration
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	if strings.HasPrefix(e.port, ":") {
		return e.port
	}
	return ":" + e.port
}

func (e EnvVars) GetAppName() string {
	return e.appName
}

func (e EnvVars) GetDataFolder() string {
	return e.dataFolder
}

func (e EnvVars) GetEnv() string {
	if e.env == "" {
		return "DEV"
	}
	return e.env
}

func (e EnvVars) GetShutdownTimeout() time.Duration {
	if e.shutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return e.shutdownTimeout
}
