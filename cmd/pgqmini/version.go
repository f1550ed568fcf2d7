package main

import (
	"encoding/json"
	"fmt"

	// Packages
	version "github.com/mutablelogic/go-pgqmini/pkg/version"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type VersionCommands struct {
	PrintVersion VersionCommand `cmd:"" name:"version" help:"Print version information." group:"VERSION"`
}

type VersionCommand struct{}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *VersionCommand) Run(ctx *Globals) error {
	fmt.Println(VersionJSON())
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func VersionJSON() string {
	metadata := map[string]string{
		"name":       version.ExecName(),
		"version":    version.Version(),
		"compiler":   version.Compiler(),
		"source":     version.GitSource,
		"tag":        version.GitTag,
		"branch":     version.GitBranch,
		"hash":       version.GitHash,
		"build_time": version.GoBuildTime,
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
