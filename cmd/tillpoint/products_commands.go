package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tillpoint/internal/api"
	"tillpoint/internal/ipc"
	"tillpoint/internal/store"
)

func newProductsCommand(ctx *commandContext) *cobra.Command {
	productsCmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"product"},
		Short:   "Manage the product catalog",
	}
	productsCmd.AddCommand(newProductsListCommand(ctx))
	productsCmd.AddCommand(newProductsAddCommand(ctx))
	productsCmd.AddCommand(newProductsUpdateCommand(ctx))
	productsCmd.AddCommand(newProductsDeleteCommand(ctx))
	productsCmd.AddCommand(newProductsToggleCommand(ctx))
	return productsCmd
}

func newProductsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				products, err := client.ProductList(rpcCtx)
				if err != nil {
					return err
				}
				if jsonOutput {
					if products == nil {
						products = []api.Product{}
					}
					return writeJSON(cmd, products)
				}
				out := cmd.OutOrStdout()
				if len(products) == 0 {
					fmt.Fprintln(out, "No products")
					return nil
				}
				fmt.Fprintln(out, renderProductTable(products, moneyFromConfig(cfg)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print products as JSON")
	return cmd
}

func renderProductTable(products []api.Product, money moneyFormatter) string {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rows = append(rows, []string{p.ID, p.Name, money.format(p.Price), string(p.UnitType), yesNo(p.InStock)})
	}
	return renderTable(
		[]string{"ID", "Name", "Price", "Unit", "In stock"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newProductsAddCommand(ctx *commandContext) *cobra.Command {
	var name, unit string
	var price float64
	var outOfStock bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			unitType, ok := store.ParseUnitType(unit)
			if !ok {
				return fmt.Errorf("unit must be kg or un, got %q", unit)
			}
			in := store.ProductInput{
				Name:     strings.TrimSpace(name),
				Price:    price,
				UnitType: unitType,
				InStock:  !outOfStock,
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				p, err := client.ProductCreate(rpcCtx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Product name")
	cmd.Flags().Float64Var(&price, "price", 0, "Unit price (per kg for weighed products)")
	cmd.Flags().StringVar(&unit, "unit", string(store.UnitPiece), "Unit type: kg or un")
	cmd.Flags().BoolVar(&outOfStock, "out-of-stock", false, "Create the product as unavailable")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newProductsUpdateCommand(ctx *commandContext) *cobra.Command {
	var name, unit string
	var price float64
	var inStock bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change product fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch store.ProductPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				trimmed := strings.TrimSpace(name)
				patch.Name = &trimmed
			}
			if flags.Changed("price") {
				patch.Price = &price
			}
			if flags.Changed("unit") {
				unitType, ok := store.ParseUnitType(unit)
				if !ok {
					return fmt.Errorf("unit must be kg or un, got %q", unit)
				}
				patch.UnitType = &unitType
			}
			if flags.Changed("in-stock") {
				patch.InStock = &inStock
			}
			if patch == (store.ProductPatch{}) {
				return fmt.Errorf("nothing to update; pass --name, --price, --unit, or --in-stock")
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				p, err := client.ProductUpdate(rpcCtx, args[0], patch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Product name")
	cmd.Flags().Float64Var(&price, "price", 0, "Unit price")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit type: kg or un")
	cmd.Flags().BoolVar(&inStock, "in-stock", true, "Availability")
	return cmd
}

func newProductsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product that has never been sold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				if err := client.ProductDelete(rpcCtx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newProductsToggleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a product between in stock and out of stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				p, err := client.ProductToggle(rpcCtx, args[0])
				if err != nil {
					return err
				}
				state := "in stock"
				if !p.InStock {
					state = "out of stock"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", p.Name, state)
				return nil
			})
		},
	}
}
