package main

// Populated at release build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
