// Package config loads the configuration shared by the cartographer,
// ingestor and auditor binaries: a YAML file plus environment overrides
// plus CLI flags, merged through viper the way the rest of this project's
// lineage does it.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/overlaywatch/canopy/pkg/utils"
)

// ResolveDatabaseURL returns the store connection string, in precedence
// order: an explicit --database-url flag, CANOPY_DATABASE_URL, a YAML
// config file's database_url key, then the bare DATABASE_URL environment
// variable every binary's glue also recognizes. (viper's AutomaticEnv lets
// the prefixed environment variable override the config file.)
func ResolveDatabaseURL(configPath, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return "", utils.Wrap(err, "read config file")
		}
	}
	v.SetEnvPrefix("canopy")
	v.AutomaticEnv()

	if dsn := v.GetString("database_url"); dsn != "" {
		return dsn, nil
	}
	if dsn := utils.EnvOrDefault("DATABASE_URL", ""); dsn != "" {
		return dsn, nil
	}
	return "", fmt.Errorf("config: database_url is required (--database-url, CANOPY_DATABASE_URL, or DATABASE_URL)")
}
