// Command actiongate runs the action governance core of the clinic CRM.
package main

import "github.com/clinicore/actiongate/cmd/actiongate/cmd"

func main() {
	cmd.Execute()
}
