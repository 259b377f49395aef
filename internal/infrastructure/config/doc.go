// Package config handles loading, validating and saving DCT bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DCT_* environment variables
//   - Validation of required fields
//   - Writing runtime changes (device host, buffer count) back to the file
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - Saved files are written with mode 0600; environment values are never saved
//
// Usage:
//
//	store, err := config.LoadStore("configs/dct.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg := store.Config()
//	fmt.Println(cfg.Device.Host)
package config
