package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tillpoint/internal/api"
	"tillpoint/internal/devices"
	"tillpoint/internal/ipc"
	"tillpoint/internal/settings"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change operator settings",
	}
	settingsCmd.AddCommand(newSettingsShowCommand(ctx))
	settingsCmd.AddCommand(newSettingsGetCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	settingsCmd.AddCommand(newSettingsScaleCommand(ctx))
	return settingsCmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the whole settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				doc, err := client.SettingsGetAll(rpcCtx)
				if err != nil {
					return err
				}
				return writeJSON(cmd, doc)
			})
		},
	}
}

func newSettingsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one settings value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				value, err := client.SettingsGet(rpcCtx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a settings value",
		Long:  "Store a settings value. The value is parsed as JSON; anything that is not valid JSON is stored as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := settingValue(args[1])
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				value, err := client.SettingsSet(rpcCtx, args[0], raw)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
				return nil
			})
		},
	}
}

// settingValue treats bare words like `light` as JSON strings.
func settingValue(arg string) json.RawMessage {
	trimmed := strings.TrimSpace(arg)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}

func newSettingsScaleCommand(ctx *commandContext) *cobra.Command {
	scaleCmd := &cobra.Command{
		Use:   "scale",
		Short: "Select or clear the scale device",
	}

	var baud, dataBits int
	var name string
	selectCmd := &cobra.Command{
		Use:   "select <port|vid:pid>",
		Short: "Use an attached device as the scale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				list, err := client.SerialDevices(rpcCtx)
				if err != nil {
					return err
				}
				desc, err := descriptorFor(list, args[0], baud, dataBits)
				if err != nil {
					return err
				}
				if strings.TrimSpace(name) != "" {
					desc.Name = strings.TrimSpace(name)
				}
				raw, err := json.Marshal(desc)
				if err != nil {
					return err
				}
				if _, err := client.SettingsSet(rpcCtx, settings.KeyScaleDevice, raw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scale set to %s (%s) at %d baud\n", desc.Name, desc.ID(), desc.BaudRate)
				return nil
			})
		},
	}
	selectCmd.Flags().IntVar(&baud, "baud", 9600, "Baud rate")
	selectCmd.Flags().IntVar(&dataBits, "data-bits", 8, "Data bits (5-8)")
	selectCmd.Flags().StringVar(&name, "name", "", "Display name; defaults to the USB product string")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the scale device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				if _, err := client.SettingsSet(rpcCtx, settings.KeyScaleDevice, json.RawMessage("null")); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scale cleared")
				return nil
			})
		},
	}

	scaleCmd.AddCommand(selectCmd, clearCmd)
	return scaleCmd
}

// descriptorFor picks the attached device named by selector, either a port
// path or a vvvv:pppp id, and builds the descriptor to persist.
func descriptorFor(list []api.SerialDevice, selector string, baud, dataBits int) (devices.Descriptor, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return devices.Descriptor{}, errors.New("device selector is empty")
	}

	var matches []api.SerialDevice
	if vid, pid, ok := parseDeviceID(selector); ok {
		for _, dev := range list {
			if dev.VendorID == vid && dev.ProductID == pid {
				matches = append(matches, dev)
			}
		}
	} else {
		for _, dev := range list {
			if dev.Path == selector {
				matches = append(matches, dev)
			}
		}
	}

	switch len(matches) {
	case 0:
		return devices.Descriptor{}, fmt.Errorf("%w: %s is not attached", devices.ErrDeviceUnavailable, selector)
	case 1:
	default:
		return devices.Descriptor{}, fmt.Errorf("%w: %s matches %d ports", devices.ErrAmbiguousDevice, selector, len(matches))
	}

	dev := matches[0]
	desc := devices.Descriptor{
		Name:      dev.Name,
		VendorID:  dev.VendorID,
		ProductID: dev.ProductID,
		Path:      dev.Path,
		BaudRate:  baud,
		DataBits:  dataBits,
	}
	if desc.Name == "" {
		desc.Name = desc.ID()
	}
	if err := desc.Validate(); err != nil {
		return devices.Descriptor{}, err
	}
	return desc, nil
}

func parseDeviceID(value string) (uint16, uint16, bool) {
	vidRaw, pidRaw, ok := strings.Cut(value, ":")
	if !ok || strings.HasPrefix(value, "/") {
		return 0, 0, false
	}
	vid, err := devices.ParseHexID(vidRaw)
	if err != nil {
		return 0, 0, false
	}
	pid, err := devices.ParseHexID(pidRaw)
	if err != nil {
		return 0, 0, false
	}
	return vid, pid, true
}
