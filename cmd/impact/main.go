package main

import (
	"fmt"
	"os"
	"strings"
)

var version = "0.1.0-dev"

var (
	globalConfigPath string
	globalDBPath     string
	globalLLM        string
	globalLogLevel   string
	globalInventoryA string
	globalInventoryB string
	globalVerbose    bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "search":
		err = runSearch(args[1:])
	case "suggest":
		err = runSuggest(args[1:])
	case "aggregate":
		err = runAggregate(args[1:])
	case "facility":
		err = runFacility(args[1:])
	case "site":
		err = runSite(args[1:])
	case "prn":
		err = runPRN(args[1:])
	case "serve":
		err = runServe(args[1:])
	case "mcp":
		err = runMCP(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "config":
		err = runConfig(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("impact %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags strips flags that apply to every command and returns the rest.
func parseGlobalFlags(args []string) []string {
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--config" && i+1 < len(args):
			i++
			globalConfigPath = args[i]
		case strings.HasPrefix(a, "--config="):
			globalConfigPath = strings.TrimPrefix(a, "--config=")
		case a == "--db" && i+1 < len(args):
			i++
			globalDBPath = args[i]
		case strings.HasPrefix(a, "--db="):
			globalDBPath = strings.TrimPrefix(a, "--db=")
		case a == "--llm" && i+1 < len(args):
			i++
			globalLLM = args[i]
		case strings.HasPrefix(a, "--llm="):
			globalLLM = strings.TrimPrefix(a, "--llm=")
		case a == "--log-level" && i+1 < len(args):
			i++
			globalLogLevel = args[i]
		case strings.HasPrefix(a, "--log-level="):
			globalLogLevel = strings.TrimPrefix(a, "--log-level=")
		case a == "--inventory-a" && i+1 < len(args):
			i++
			globalInventoryA = args[i]
		case strings.HasPrefix(a, "--inventory-a="):
			globalInventoryA = strings.TrimPrefix(a, "--inventory-a=")
		case a == "--inventory-b" && i+1 < len(args):
			i++
			globalInventoryB = args[i]
		case strings.HasPrefix(a, "--inventory-b="):
			globalInventoryB = strings.TrimPrefix(a, "--inventory-b=")
		case a == "--verbose" || a == "-V":
			globalVerbose = true
		default:
			rest = append(rest, a)
		}
	}
	return rest
}

func printUsage() {
	fmt.Printf(`impact %s - environmental impact resolution and allocation engine

Usage:
  impact [global flags] <command> [arguments]

Commands:
  search <query>                       Resolve a description to inventory processes
  suggest <name>                       Propose proxy queries for an unmatched item
  aggregate <items.json>               Total impacts for a material list
  facility set <id> <intensity>        Record a facility's emission intensity
  site set <product> <facility> <vol>  Link a facility or change its volume
  site rm <product> <facility>         Unlink a facility
  site ls <product>                    Show a product's allocation
  prn build <org> <year> CODE=t ...    Derive PRN obligations from tonnage
  prn buy <org> <year> <code> <t> <£>  Record a PRN purchase
  prn status <org> <year>              Show obligations and fulfilment
  serve                                Run the HTTP API
  mcp                                  Run the MCP server on stdio
  stats                                Show store statistics
  config                               Show the resolved configuration
  version                              Print version

Global Flags:
  --config <path>     Config file (default ~/.impact/config.yaml)
  --db <path>         Database path (default ~/.impact/impact.db)
  --llm <spec>        LLM provider/model, or "none" (default google/gemini-2.5-flash)
  --log-level <lvl>   debug, info, warn, error
  --inventory-a <f>   Industrial inventory catalogue (.csv, .tsv, .json)
  --inventory-b <f>   Agricultural and food inventory catalogue
  -V, --verbose       Debug logging

Command Flags:
  --json              Print JSON instead of text
  --org <id>          Organization id (search, suggest)
  --type <t>          ingredient or packaging (suggest)
  --context <text>    Product context (suggest)
  --metered           Intensity is primary metered data (facility set)
  --addr <host:port>  Listen address (serve)
`, version)
}
