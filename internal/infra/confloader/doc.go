// Package confloader loads keepstore configuration.
//
// Sources, lowest priority first:
//
//  1. Defaults already present in the target struct
//  2. A YAML configuration file
//  3. KEEPSTORE_ environment variables
//  4. Explicit overrides, usually from command-line flags
//
// Nested keys in environment variables are separated by a double
// underscore: KEEPSTORE_STORAGE__DATA_DIR sets storage.data_dir.
//
// Watcher reports writes to the configuration file so long-running
// commands can reload settings such as the log level.
package confloader
