// Package config provides configuration loading and validation for the form relay service.
// Defaults are layered with an optional YAML file, an optional dotenv file and the
// process environment, then validated section by section.
package config
