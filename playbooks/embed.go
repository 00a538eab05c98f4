// Package playbooks provides the embedded default recruiting playbook.
// It exists to satisfy go:embed's requirement that embedded files reside
// in or below the embedding package directory.
//
// The parser lives in internal/playbook.
package playbooks

import _ "embed"

// Recruiting is the default playbook used when no playbook_file is set.
//
//go:embed recruiting.md
var Recruiting []byte
