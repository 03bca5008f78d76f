// Package config handles configuration loading for hearth.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion.
// Every field has a default, so an empty file yields a working gateway that
// logs replies instead of sending them.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the HEARTH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hearth/hearth.yaml
//  3. ~/.config/hearth/hearth.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}. Unset
// variables expand to an empty string:
//
//	delivery:
//	  token: "${HEARTH_DELIVERY_TOKEN}"
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax (ns, us, ms, s, m, h):
//
//	session:
//	  timeout: "24h"
//	dedupe:
//	  ttl: "10m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  shutdown_timeout: "15s"
//	database:
//	  path: "~/.local/share/hearth/hearth.db"
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
//	session:
//	  timeout: "24h"
//	  close_commands: ["terminar conversacion", "end conversation"]
//	replies:
//	  restart: "..."
//	  close: "..."
//	  apology: "..."
//	fallback:
//	  tiers:
//	    - category: pricing
//	      keywords: ["precio", "costo"]
//	      reply: "..."
//	      confidence: 0.6
//	  generic_replies: ["..."]
//	rules:
//	  dir: "./rules"   # holds rules.toml and one script per rule set
//	  watch: true
//	  debounce: "500ms"
//	dedupe:
//	  ttl: "10m"
//	  max_size: 10000
//	ingest:
//	  object_types: ["whatsapp_business_account"]
//	  verify_token: "${HEARTH_VERIFY_TOKEN}"
//	channels:
//	  daily_limit: 1000
//	  rate_per_second: 20
//	delivery:
//	  base_url: "https://graph.facebook.com/v19.0"
//	  token: "${HEARTH_DELIVERY_TOKEN}"
//	  timeout: "10s"
//	storage:
//	  timeout: "3s"
//	maintenance:
//	  schedule: "@hourly"
//	  message_retention: "720h"
//	metrics:
//	  enabled: false
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
