// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/rulerun-org/rulerun/cmd"

func main() {
	cmd.Execute()
}
