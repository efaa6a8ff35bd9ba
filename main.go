package main

import (
	"github.com/ColonelBlimp/repeaterctl/cmd"
	"github.com/ColonelBlimp/repeaterctl/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
