package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tillpoint/internal/api"
	"tillpoint/internal/ipc"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached USB serial devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				list, err := client.SerialDevices(rpcCtx)
				if err != nil {
					return err
				}
				if jsonOutput {
					if list == nil {
						list = []api.SerialDevice{}
					}
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No USB serial devices found")
					return nil
				}
				fmt.Fprintln(out, renderDeviceTable(list))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print devices as JSON")
	return cmd
}

func renderDeviceTable(list []api.SerialDevice) string {
	rows := make([][]string, 0, len(list))
	for _, dev := range list {
		rows = append(rows, []string{
			dev.Path,
			dev.ID(),
			dev.Name,
			dev.Manufacturer,
			dev.SerialNumber,
			yesNo(dev.Writable),
		})
	}
	return renderTable(
		[]string{"Port", "ID", "Name", "Manufacturer", "Serial", "Writable"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
