package main

import (
	"os"

	"voiceboot/internal/cli"
)

func main() { os.Exit(cli.Main()) }
