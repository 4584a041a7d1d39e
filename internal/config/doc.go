// Package config handles configuration loading for agentmix.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTMIX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentmix/config.yaml
//  3. ~/.config/agentmix/config.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	database:
//	  credential_key: "${AGENTMIX_CREDENTIAL_KEY}"
//
// Unset variables expand to an empty string.
//
// # Configuration Sections
//
// Server and database:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  grpc_addr: "127.0.0.1:50051"   # optional gRPC health service
//	database:
//	  path: "/var/lib/agentmix/agentmix.db"
//
// Turn loop pacing, with Go duration strings:
//
//	runtime:
//	  turn_interval: "1s"
//	  max_turns: 100
//	  history_limit: 5
//	  reply_max_tokens: 150
//	  shutdown_timeout: "5s"
//
// Extra or overridden providers:
//
//	providers:
//	  vllm:
//	    kind: openai          # openai or anthropic
//	    base_url: "http://gpu-box:8000/v1/"
//
// Matrix relay:
//
//	frontends:
//	  matrix:
//	    enabled: true
//	    homeserver: "https://matrix.org"
//	    user_id: "@agentmix:matrix.org"
//	    access_token: "${AGENTMIX_MATRIX_TOKEN}"
//	    allowed_users: ["@dana:matrix.org"]
//	    rooms:
//	      - room_id: "!planning:matrix.org"
//	        conversation_id: "3f0c..."
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
