package config

import (
	"fmt"
	"strings"
)

type EnvVars struct {
	s *Settings
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.s.App.Port
	if port == "" {
		port = "8080"
	}
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.s.App.Name
}

func (e EnvVars) GetEnv() string {
	return e.s.App.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.s.App.LogLevel
}

func (e EnvVars) IsProduction() bool {
	env := strings.ToLower(e.s.App.Env)
	return env == "production" || env == "prod"
}
