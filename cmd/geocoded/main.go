package main

import (
	"errors"
	"log"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	args := os.Args[1:]
	opts := &Options{}
	if len(args) > 0 {
		opts.Init(args[0])
	}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Stdout.WriteString(flagsErr.Message + "\n")
			return
		}
		log.Fatalf("%v", err)
	}
}
