package sql

import (
	_ "embed"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Objects are the provisioning statements, executed in order on connect.
// Every statement can be re-run against a provisioned store.
//
//go:embed objects.sql
var Objects string

// Queries are the statements used by queue operations
//
//go:embed queries.sql
var Queries string
