// Package config provides centralized configuration management for the
// FansDFS runtime. Configuration is loaded once from a JSON file at startup
// and handed to components as explicit structs; no package reads ambient
// environment variables on its own. Secrets may be referenced indirectly via
// *_env fields so credentials stay out of the config file.
package config
