package logger

import "strings"

// Config provides a logging Level for a particular namespace.
type Config interface {
	// LevelForNamespace returns a logging Level for particular namespace.
	LevelForNamespace(namespace string) Level
}

// ConfigMap maps namespaces to levels.
type ConfigMap map[string]Level

// NewConfigMapFromString parses a CSV string in the form
// "ns1:level,ns2:level" and returns a Config. It is meant for reading the
// configuration from an environment variable. Entries without a level
// default to info.
func NewConfigMapFromString(stringConfig string) Config {
	if stringConfig == "" {
		return nil
	}

	entries := strings.Split(stringConfig, ",")

	ret := make(ConfigMap, len(entries))

	for _, ns := range entries {
		level := LevelInfo

		if index := strings.LastIndex(ns, ":"); index > -1 {
			if cfgLevel, ok := LevelFromString(ns[index+1:]); ok {
				level = cfgLevel
				ns = ns[:index]
			}
		}

		ret[ns] = level
	}

	return ret
}

// LevelForNamespace implements Config.
func (c ConfigMap) LevelForNamespace(namespace string) Level {
	if level, ok := c[namespace]; ok {
		return level
	}

	// Fall back to the last segment of the namespace.
	if index := strings.LastIndex(namespace, ":"); index > -1 {
		if level, ok := c[namespace[index+1:]]; ok {
			return level
		}
	}

	// Return configuration for the root logger.
	return c[""]
}
