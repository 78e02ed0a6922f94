// Command voxdeck is the terminal client for a voxdeck gateway.
package main

import "github.com/voxdeck-ai/voxdeck/internal/cli"

func main() {
	cli.Execute()
}
