// Package config loads adapter settings.
//
// Settings are resolved in three layers, later layers overriding earlier
// ones:
//
//  1. Built-in defaults (Default)
//  2. A TOML or YAML file, chosen by extension
//  3. SCRIPTDBG_* environment variables
//
// The result is validated before use. Watch reloads the file when it
// changes so path mappings and redaction can be updated while a session
// is running.
package config
