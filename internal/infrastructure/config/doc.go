// Package config handles loading and validating the fieldbus core process configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FIELDCORE_*)
//   - Validation of required fields, with every problem reported at once
//   - Default value handling
//
// The site model (device models, devices, rules, schedules) is a separate
// document loaded by the catalog package; this package only knows its path.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sampler.Period)
package config
