package main

import (
	"flag"
	"fmt"
	"os"

	"story-workers/pkg/registry"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validatePath := validateCmd.String("path", "", "Path to a registry file (default: the embedded registry)")

	varsCmd := flag.NewFlagSet("vars", flag.ExitOnError)
	taskType := varsCmd.String("task", "", "Task type (e.g., generate-stories)")
	varsFile := varsCmd.String("file", "", "Path to a JSON file with job variables")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		reg, err := load(*validatePath)
		if err == nil {
			err = reg.Validate()
		}
		if err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))

	case "vars":
		varsCmd.Parse(os.Args[2:])
		if *taskType == "" || *varsFile == "" {
			fmt.Println("Error: task and file are required for vars.")
			varsCmd.Usage()
			os.Exit(1)
		}
		if err := checkVariables(*taskType, *varsFile); err != nil {
			fmt.Printf("Variables rejected: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Variables accepted by %s.\n", *taskType)

	case "help":
		help()

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		help()
		os.Exit(1)
	}
}

func load(path string) (*registry.ActivityRegistry, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.LoadRegistry(path)
}

// checkVariables validates a job variable document the way the worker
// for taskType would before running it.
func checkVariables(taskType, path string) error {
	reg, err := registry.Default()
	if err != nil {
		return err
	}
	activity, ok := reg.Find(taskType)
	if !ok {
		return fmt.Errorf("unknown task type %q", taskType)
	}
	schema, err := activity.InputValidator()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read variables: %w", err)
	}
	result, err := schema.ValidateJSON(raw)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}

func help() {
	fmt.Println(`
Usage: registry-check <command> [flags]

Commands:
  validate  Validate the activity registry
  vars      Validate job variables against a task's input schema
  help      Show this help message

Examples:
  registry-check validate
  registry-check validate -path pkg/registry/activities.json
  registry-check vars -task generate-stories -file vars.json`)
}
