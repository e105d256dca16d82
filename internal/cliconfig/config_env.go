package cliconfig

import "os"

// ApplyEnvConfig applies ROOTCKPT_* environment variables to the Config.
// It respects flags that have been explicitly set (changed map); environment
// variables sit between config file values and flags in precedence.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("prefix", os.Getenv("ROOTCKPT_PREFIX"), &cfg.Prefix)
	s.setString("log-level", os.Getenv("ROOTCKPT_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("rank", os.Getenv("ROOTCKPT_RANK"), &cfg.Rank); err != nil {
		return err
	}
	return s.setDuration("debounce", os.Getenv("ROOTCKPT_DEBOUNCE"), &cfg.Debounce)
}
