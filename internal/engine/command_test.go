package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Argv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  Command
		want []string
	}{
		{
			name: "bare plan",
			cmd:  Command{Binary: "terraform", Operation: OpPlan},
			want: []string{"terraform", "plan", "-json"},
		},
		{
			name: "plan ignores auto-approve",
			cmd:  Command{Binary: "terraform", Operation: OpPlan, AutoApprove: true},
			want: []string{"terraform", "plan", "-json"},
		},
		{
			name: "apply with auto-approve",
			cmd:  Command{Binary: "terraform", Operation: OpApply, AutoApprove: true},
			want: []string{"terraform", "apply", "-json", "-auto-approve"},
		},
		{
			name: "destroy with everything",
			cmd: Command{
				Binary:      "tofu",
				Operation:   OpDestroy,
				AutoApprove: true,
				VarFiles:    []string{"prod.tfvars", "secrets.tfvars"},
				Targets:     []string{"module.db"},
				Parallelism: 5,
				NoColor:     true,
			},
			want: []string{
				"tofu", "destroy", "-json", "-auto-approve",
				"-var-file=prod.tfvars", "-var-file=secrets.tfvars",
				"-target=module.db", "-parallelism=5", "-no-color",
			},
		},
		{
			name: "zero parallelism omitted",
			cmd:  Command{Binary: "terraform", Operation: OpApply, Parallelism: 0},
			want: []string{"terraform", "apply", "-json"},
		},
		{
			name: "destroy plan",
			cmd:  Command{Binary: "terraform", Operation: OpPlan, PlanDestroy: true},
			want: []string{"terraform", "plan", "-json", "-destroy"},
		},
		{
			name: "destroy flag only applies to plan",
			cmd:  Command{Binary: "terraform", Operation: OpApply, AutoApprove: true, PlanDestroy: true},
			want: []string{"terraform", "apply", "-json", "-auto-approve"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cmd.Argv())
		})
	}
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	cmd := Command{Binary: "terraform", Operation: OpPlan, VarFiles: []string{"dev.tfvars"}}
	assert.Equal(t, "terraform plan -json -var-file=dev.tfvars", cmd.String())
}

func TestCommand_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Command{Binary: "terraform", Operation: OpPlan}.Validate())
	assert.Error(t, Command{Operation: OpPlan}.Validate())
	assert.Error(t, Command{Binary: "terraform", Operation: "refresh"}.Validate())
	assert.Error(t, Command{Binary: "terraform"}.Validate())
}

// fakeBinary drops an executable file into dir so LookPath can find it.
func fakeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func TestDetectBinary_PrefersTerraform(t *testing.T) {
	dir := t.TempDir()
	wantTerraform := fakeBinary(t, dir, "terraform")
	fakeBinary(t, dir, "tofu")
	t.Setenv("PATH", dir)

	got, err := DetectBinary("")
	require.NoError(t, err)
	assert.Equal(t, wantTerraform, got)
}

func TestDetectBinary_FallsBackToTofu(t *testing.T) {
	dir := t.TempDir()
	wantTofu := fakeBinary(t, dir, "tofu")
	t.Setenv("PATH", dir)

	got, err := DetectBinary("")
	require.NoError(t, err)
	assert.Equal(t, wantTofu, got)
}

func TestDetectBinary_Configured(t *testing.T) {
	dir := t.TempDir()
	want := fakeBinary(t, dir, "terraform-1.9")
	t.Setenv("PATH", dir)

	got, err := DetectBinary("terraform-1.9")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DetectBinary("no-such-engine")
	assert.Error(t, err)
}

func TestDetectBinary_NothingOnPath(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := DetectBinary("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither terraform nor tofu")
}
