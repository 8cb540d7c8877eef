// Command hookengine runs the reference hook execution service: it loads a
// rule/binding configuration, wires the Hook Manager and its storage
// adapters, and serves push evaluation and admin endpoints over HTTP.
package main

import "github.com/scmhooks/hookengine/cmd/hookengine/cmd"

func main() {
	cmd.Execute()
}
