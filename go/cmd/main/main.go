package main

import (
	"github.com/hybricorn/hybricorn/go/cmd"

	_ "github.com/hybricorn/hybricorn/go/cmd/run"

	_ "github.com/hybricorn/hybricorn/go/cmd/resolve"
	_ "github.com/hybricorn/hybricorn/go/cmd/state"
)

func main() { cmd.Main() }
