// Package validate holds the pure predicates used to check cloner
// configuration values before they are turned into command line flags.
// None of the functions panic or return errors; malformed input is false.
package validate
