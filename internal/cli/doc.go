// Package cli implements the tracedb command line.
//
//	tracedb test ./scenarios            run every scenario, compare goldens
//	tracedb run scenario.yaml           run one scenario and print its dump
//	tracedb load --config store.yaml    write random batches into a store
//	tracedb config validate store.yaml  check a config file
//	tracedb config show [store.yaml]    print the effective config
//
// Commands print text by default and a {status, data, error} envelope with
// --format json. Exit codes are 0 on success, 1 when scenarios or
// validation fail, and 2 for command errors such as missing files.
package cli
