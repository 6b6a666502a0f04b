package main

import (
	"os"

	"github.com/aquasecurity/table"
	"github.com/rancher/agent-control/internal/configrepo"
	"github.com/spf13/cobra"
)

// newStatusCommand reads the on-disk layout a FileRepository persists
// (one directory per sub-agent id holding local.yaml / remote.yaml /
// remote.meta.yaml) and prints a summary table. It is a read-only
// offline view: it does not talk to a running agent-control process.
func newStatusCommand() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted local/remote config state for every known sub-agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(stateDir)
			if err != nil {
				if os.IsNotExist(err) {
					entries = nil
				} else {
					return err
				}
			}

			repo := configrepo.NewFileRepository(stateDir)
			t := table.New(cmd.OutOrStdout())
			t.SetHeaders("AGENT ID", "LOCAL CONFIG", "REMOTE STATE", "REMOTE HASH")
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				id := e.Name()

				local, err := repo.LoadLocal(id)
				if err != nil {
					return err
				}
				hasLocal := "no"
				if local != nil {
					hasLocal = "yes"
				}

				remoteState, remoteHash := "-", "-"
				remote, err := repo.GetRemoteConfig(id)
				if err != nil {
					return err
				}
				if remote != nil {
					remoteState = string(remote.State)
					remoteHash = remote.Hash
				}

				t.AddRow(id, hasLocal, remoteState, remoteHash)
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/agent-control", "directory for persisted local/remote config")
	return cmd
}
