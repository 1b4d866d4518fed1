// Package config loads the ragjobs configuration.
//
// Settings come from, in increasing precedence: built-in defaults, a TOML
// file, a .env file in the working directory, and RAGJOBS_* environment
// variables. The result is validated once and then passed explicitly to
// every component; nothing reads configuration from globals.
//
// A minimal file:
//
//	[storage]
//	backend = "badger"
//	badger_dir = "/var/lib/ragjobs"
//
//	[ai]
//	llm_model = "qwen2.5:7b"
//
//	[workers]
//	count = 4
package config
