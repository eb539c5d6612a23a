// Package config provides centralized configuration management for the
// Obsidian license service.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources, later ones winning:
//
//  1. Default values (Default)
//  2. A YAML file: $OBSIDIAN_CONFIG_FILE, config.yaml or configs/config.yaml
//  3. Environment variables
//
// # Environment Variables
//
// Every variable is prefixed with OBSIDIAN and the section name:
//
//	OBSIDIAN_SERVER_PORT=8080
//	OBSIDIAN_DATABASE_HOST=db.internal
//	OBSIDIAN_REDIS_URL=redis://cache:6379/0
//	OBSIDIAN_LICENSING_API_KEY=...
//	OBSIDIAN_SYNC_WINDOW=1500
//	OBSIDIAN_LIMITS_HWID_RESET_MAX=3
//	OBSIDIAN_PRODUCTS=monthly:43200,lifetime:0
//
// A .env file in the working directory is loaded by the binaries before
// Load runs.
//
// # Validation
//
// Load calls Validate, which rejects out-of-range values (server port, sync
// window outside 1000-1500, non-positive limiter budgets) and normalizes the
// logging section.
package config
