package main

import (
	"github.com/spf13/cobra"

	"github.com/xmatters-labs/restore-instance-data/pkg/restore"
)

type stageCommand struct {
	use    string
	short  string
	stages []restore.Stage
}

var stageCommands = []stageCommand{
	{use: "sites", short: "Restore Sites", stages: []restore.Stage{restore.StageSites}},
	{use: "users", short: "Restore Users and their Devices", stages: []restore.Stage{restore.StageUsers, restore.StageDevices}},
	{use: "users-only", short: "Restore Users without Devices", stages: []restore.Stage{restore.StageUsers}},
	{use: "devices", short: "Restore Devices of existing Users", stages: []restore.Stage{restore.StageDevices}},
	{use: "groups", short: "Restore Groups with their Shifts and Members", stages: []restore.Stage{restore.StageGroups, restore.StageShifts}},
	{use: "groups-only", short: "Restore Groups without Shifts", stages: []restore.Stage{restore.StageGroups}},
	{use: "shifts", short: "Restore Shifts and Members of existing Groups", stages: []restore.Stage{restore.StageShifts}},
	{
		use:   "all",
		short: "Restore everything in dependency order",
		stages: []restore.Stage{
			restore.StageSites, restore.StageUsers, restore.StageDevices, restore.StageGroups, restore.StageShifts,
		},
	},
}

func newStageCmd(opts *globalOptions, sc stageCommand) *cobra.Command {
	return &cobra.Command{
		Use:   sc.use,
		Short: sc.short,
		Args: func(cmd *cobra.Command, args []string) error {
			return exitWith(exitCommand, cobra.NoArgs(cmd, args))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRestore(cmd, opts, restore.NewStages(sc.stages...))
		},
	}
}
