package common

// Cache keys.
const (
	KEY_LATEST_QUOTE = "latest_quote:%s:%s"
)

// Request types written to the API request log.
const (
	REQUEST_TYPE_HISTORICAL = "historical"
	REQUEST_TYPE_QUOTE      = "quote"
)

// Artifact store kinds.
const (
	ARTIFACT_STORE_FILE     = "file"
	ARTIFACT_STORE_DATABASE = "database"
)

const (
	DB_DRIVER_POSTGRES = "postgres"
	DB_DRIVER_SQLITE   = "sqlite"
)
