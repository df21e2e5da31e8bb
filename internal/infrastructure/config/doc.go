// Package config loads the door station's YAML configuration.
//
// Load reads the file, applies INTERCOM_* environment overrides, then
// validates the whole document. Secrets (INTERCOM_SIP_PASSWORD,
// INTERCOM_JWT_SECRET) are normally supplied through the environment so the
// file can stay world-readable on the station.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
package config
