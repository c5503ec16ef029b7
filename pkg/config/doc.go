// Package config loads typed configuration from environment variables.
//
// Structs describe their variables with `env` tags understood by
// github.com/caarlos0/env; .env files are read with github.com/joho/godotenv.
// Load parses each configuration type once and serves later calls from an
// in-process cache, so components may call it freely:
//
//	var pgCfg pg.Config
//	if err := config.Load(&pgCfg); err != nil {
//	    return err
//	}
//
// LoadEnv reads explicit .env files before parsing. Variables already present
// in the process environment take precedence over file values.
//
// ResetCache and ForceReloadConfig exist for tests that change the
// environment between loads.
package config
