package main

import "flag"

// Options holds CLI options for the server.
type Options struct {
	ConfigPath string
	Port       uint
	HTTPAddr   string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("quicknet-server", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.UintVar(&opts.Port, "port", 0, "Listen port (overrides config)")
	fs.StringVar(&opts.HTTPAddr, "http", "", "HTTP gateway address (overrides config, implies enable)")
	_ = fs.Parse(args)
	return opts
}
