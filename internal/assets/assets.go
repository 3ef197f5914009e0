// Package assets holds the HTML pages compiled into the binary.
package assets

import (
	_ "embed"
)

//go:embed welcome.html
var WelcomeHTML string

//go:embed verifier.html
var VerifierHTML string
