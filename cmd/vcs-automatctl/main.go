// vcs-automatctl is the operator CLI for the vcs-automat daemon's admin API.
package main

import "github.com/agimpel/vcs-automat-core/cmd/vcs-automatctl/commands"

func main() {
	commands.Execute()
}
