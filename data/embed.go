// Package data holds the default datasets compiled into the binaries. They are
// the last source tried when nothing else answers.
package data

import _ "embed"

//go:embed donations.json
var Donations []byte

//go:embed expenses.json
var Expenses []byte
