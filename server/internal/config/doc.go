// Package config loads the server configuration from the `server:` section of
// a YAML file.
//
// Defaults are applied before unmarshalling and the result is validated
// afterwards. Secrets are never stored in the file: *_env fields name the
// environment variable that holds the value (admin keys, ops API key).
//
// Watch reloads the file on change so the log level and the admin key set can
// be updated without a restart. A reload that fails validation is logged and
// ignored.
package config
