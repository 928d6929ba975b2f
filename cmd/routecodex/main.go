// Routecodex is a multi-protocol LLM gateway that accepts OpenAI Chat
// Completions, OpenAI Responses, and Anthropic Messages requests and
// dispatches them across a pool of upstream providers.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/routecodex.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("routecodex", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
