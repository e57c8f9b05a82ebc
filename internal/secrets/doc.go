// Package secrets redacts credentials from diff text before it is embedded
// and stored in the vector index.
//
// Patches routinely carry configuration changes, and anything written to the
// index is returned verbatim by similarity search. The Scrubber replaces
// every match of its rules with a redaction marker and reports which rules
// fired, without retaining the matched values.
package secrets
