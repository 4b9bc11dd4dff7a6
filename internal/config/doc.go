// Package config provides YAML configuration loading and validation for
// the audio preparation service. Every section carries defaults, so a
// partial file only overrides what it names.
package config
