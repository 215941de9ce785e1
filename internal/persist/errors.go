package persist

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("persist_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("persist_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("persist_schema_validation_failed")
	ErrTransactionFailed      = errors.ErrorCode("persist_transaction_failed")

	// Storage Errors
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
	ErrStorageAccess = errors.ErrorCode("persist_storage_access_failed")

	// Snapshot Errors
	ErrInvalidSnapshot = errors.ErrorCode("persist_invalid_snapshot")
)
