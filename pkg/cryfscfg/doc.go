/*
Package cryfscfg loads and validates the configuration a mounted
filesystem is opened with, and reads the handful of environment
variables the core consults at startup.

Config is unmarshaled from YAML with gopkg.in/yaml.v3 and validated
with github.com/go-playground/validator/v10 struct tags: the file
format stays a thin, declarative resource, and field-level checks
(cipher name, blocksize range, hex lengths matching the configured
cipher's key size) live in registered validators instead of
hand-written if-chains.
*/
package cryfscfg
