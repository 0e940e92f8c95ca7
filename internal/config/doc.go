// Package config loads the arena-sync YAML configuration.
//
// ${VAR} references are expanded from the environment after loading an
// optional .env file that sits next to the config file. Variables already set
// in the environment win over .env entries.
package config
