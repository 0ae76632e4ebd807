// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/e4s-project/e4s-cl/cmd/e4s-cl"

func main() {
	cmd.Execute()
}
