// Package config handles loading and validating ctrlgraph configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (broker credentials, JWT secrets, store passwords)
//     should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// All reconnection backoff parameters, retry ceilings, and per-subscriber
// buffer sizes live here rather than being hard-coded in the components
// that consume them.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
