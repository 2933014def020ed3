package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "raffled"
	app.Usage = "provably fair raffle daemon"
	app.Flags = []cli.Flag{envFileFlag}
	app.Commands = append(app.Commands, runCmd, simulateCmd)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
