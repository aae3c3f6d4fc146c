package main

import (
	"github.com/bryanchriswhite/snapmark/cmd/snapmark/commands"
	"github.com/bryanchriswhite/snapmark/internal/hotkey"
)

func main() {
	hotkey.Run(commands.Execute)
}
