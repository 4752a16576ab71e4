//go:build integration || e2e

// Package integration holds cross-package tests that run the real wiring:
// a fake engine subprocess streaming -json records through the decoder,
// the controller, history, and the share server over real TCP. The e2e
// tag additionally builds the tfdeck binary and drives it as a subprocess.
//
// Run with: go test -tags integration ./internal/integration
// Or:       go test -tags e2e ./internal/integration
package integration

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tfdeck/tfdeck/internal/config"
)

// Canonical -json stream fixtures. Single lines so they survive the shell
// script fake engine unmangled; none of them contain single quotes.
var (
	versionLine = `{"@level":"info","@message":"Terraform 1.9.5","@module":"terraform.ui","type":"version","terraform":"1.9.5","ui":"1.2"}`

	plannedWebLine = `{"@level":"info","@message":"aws_instance.web: Plan to create","@module":"terraform.ui","type":"planned_change","change":{"resource":{"addr":"aws_instance.web","resource_type":"aws_instance","resource_name":"web"},"action":"create"}}`

	planSummaryLine = `{"@level":"info","@message":"Plan: 1 to add, 0 to change, 0 to destroy.","@module":"terraform.ui","type":"change_summary","changes":{"add":1,"change":0,"remove":0,"operation":"plan"}}`

	applyStartLine = `{"@level":"info","@message":"aws_instance.web: Creating...","@module":"terraform.ui","type":"apply_start","hook":{"resource":{"addr":"aws_instance.web","resource_type":"aws_instance","resource_name":"web"},"action":"create"}}`

	applyCompleteLine = `{"@level":"info","@message":"aws_instance.web: Creation complete after 2s","@module":"terraform.ui","type":"apply_complete","hook":{"resource":{"addr":"aws_instance.web","resource_type":"aws_instance","resource_name":"web"},"action":"create","elapsed_seconds":2}}`

	applySummaryLine = `{"@level":"info","@message":"Apply complete! Resources: 1 added, 0 changed, 0 destroyed.","@module":"terraform.ui","type":"change_summary","changes":{"add":1,"change":0,"remove":0,"operation":"apply"}}`

	outputsLine = `{"@level":"info","@message":"Outputs: 1","@module":"terraform.ui","type":"outputs","outputs":{"endpoint":{"sensitive":false,"type":"string","value":"https://web.example.com"}}}`

	errorDiagLine = `{"@level":"error","@message":"Error: provider exploded","@module":"terraform.ui","type":"diagnostic","diagnostic":{"severity":"error","summary":"provider exploded","detail":"the provider plugin crashed while configuring"}}`
)

// planStream is the stream a successful plan emits.
func planStream() []string {
	return []string{versionLine, plannedWebLine, planSummaryLine}
}

// applyStream is the stream a successful auto-approved apply emits.
func applyStream() []string {
	return []string{versionLine, plannedWebLine, applyStartLine, applyCompleteLine, applySummaryLine, outputsLine}
}

// fakeEngine writes a shell script that ignores its arguments, emits the
// given stdout lines, and exits with the given code. It stands in for
// terraform/tofu; the dashboard cannot tell the difference.
func fakeEngine(t *testing.T, stdout []string, exitCode int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, line := range stdout {
		b.WriteString("echo '" + line + "'\n")
	}
	b.WriteString("exit " + strconv.Itoa(exitCode) + "\n")

	path := filepath.Join(t.TempDir(), "fake-engine")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o755))
	return path
}

// fakeEngineRaw writes a shell script with the given body verbatim, for
// streams that need sleeps or other shell control between lines.
func fakeEngineRaw(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// newWorkspace creates a terraform-ish working directory: a main.tf and an
// empty .tfdeck dir for the store and logs.
func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	tf := `resource "aws_instance" "web" {
  instance_type = "t3.micro"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.tf"), []byte(tf), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".tfdeck"), 0o755))
	return dir
}

// runConfig builds a merged config pointing the engine at the fake binary,
// with the watcher off so tests stay deterministic.
func runConfig(binary string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.Binary = binary
	cfg.Watch.Enabled = false
	return cfg
}
