// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

func syntaxParse(script string) (*syntax.File, error) {
	return syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(script), "entry")
}
