// Package config loads tracestore configuration files.
//
// A file is YAML. It is first checked against an embedded CUE schema, which
// reports every violation with its line, and then decoded strictly over
// Default. The result converts to a kv.Config with StoreConfig.
//
//	engine: sqlite
//	dir: /var/lib/tracestore
//	max_value_size: 4096
//	compaction_interval: 10s
package config
