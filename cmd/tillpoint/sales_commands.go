package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tillpoint/internal/api"
	"tillpoint/internal/checkout"
	"tillpoint/internal/ipc"
	"tillpoint/internal/store"
)

func newSalesCommand(ctx *commandContext) *cobra.Command {
	salesCmd := &cobra.Command{
		Use:     "sales",
		Aliases: []string{"sale"},
		Short:   "Record and review sales",
	}
	salesCmd.AddCommand(newSalesListCommand(ctx))
	salesCmd.AddCommand(newCheckoutCommand(ctx))
	return salesCmd
}

func newSalesListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sales",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(rpcCtx context.Context, client *ipc.Client) error {
				sales, err := client.SaleList(rpcCtx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					if sales == nil {
						sales = []api.Sale{}
					}
					return writeJSON(cmd, sales)
				}
				out := cmd.OutOrStdout()
				if len(sales) == 0 {
					fmt.Fprintln(out, "No sales")
					return nil
				}
				fmt.Fprintln(out, renderSalesTable(sales, moneyFromConfig(cfg)))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sales to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print sales as JSON")
	return cmd
}

func renderSalesTable(sales []api.Sale, money moneyFormatter) string {
	rows := make([][]string, 0, len(sales))
	for _, s := range sales {
		rows = append(rows, []string{
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.ID,
			string(s.Method),
			strconv.Itoa(len(s.Items)),
			money.format(s.Discount),
			money.format(s.Total),
		})
	}
	return renderTable(
		[]string{"When", "ID", "Method", "Items", "Discount", "Total"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

type itemSpec struct {
	productID string
	qty       float64
	hasQty    bool
}

// parseItemSpec reads "id" or "id=qty".
func parseItemSpec(raw string) (itemSpec, error) {
	id, qtyRaw, hasQty := strings.Cut(strings.TrimSpace(raw), "=")
	id = strings.TrimSpace(id)
	if id == "" {
		return itemSpec{}, fmt.Errorf("item %q has no product id", raw)
	}
	spec := itemSpec{productID: id}
	if !hasQty {
		return spec, nil
	}
	qty, err := strconv.ParseFloat(strings.TrimSpace(qtyRaw), 64)
	if err != nil || qty <= 0 {
		return itemSpec{}, fmt.Errorf("item %q: quantity must be a positive number", raw)
	}
	spec.qty, spec.hasQty = qty, true
	return spec, nil
}

func newCheckoutCommand(ctx *commandContext) *cobra.Command {
	var items []string
	var method string
	var discountPercent, discountValue, paid float64
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Ring up a sale",
		Long: "Ring up a sale. Each --item is a product id, optionally followed by =qty. " +
			"Weighed products without a quantity are read from the scale.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return checkout.ErrEmptyCart
			}
			payment, ok := store.ParsePaymentMethod(method)
			if !ok {
				return fmt.Errorf("method must be cash, card or pix, got %q", method)
			}
			specs := make([]itemSpec, 0, len(items))
			for _, raw := range items {
				spec, err := parseItemSpec(raw)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}

			client, err := ctx.dialClient()
			if err != nil {
				return err
			}
			defer client.Close()
			runCtx := commandCtx(cmd)

			var cart checkout.Cart
			weigher := checkout.Weigher{
				Reader:   client,
				Attempts: cfg.Checkout.RetryAttempts,
				Delay:    cfg.RetryDelay(),
			}
			out := cmd.OutOrStdout()
			if err := fillCart(runCtx, out, client, &cart, weigher, specs); err != nil {
				return err
			}
			cart.SetSaleDiscount(discountPercent, discountValue)

			money := moneyFromConfig(cfg)
			fmt.Fprintln(out, renderReceipt(&cart, money))
			if dryRun {
				return nil
			}

			input, err := cart.Sale(payment)
			if err != nil {
				return err
			}
			rpcCtx, cancel := context.WithTimeout(runCtx, rpcTimeout)
			defer cancel()
			sale, err := client.SaleCreate(rpcCtx, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Sale %s recorded (%s)\n", sale.ID, sale.Method)
			if paid > 0 {
				fmt.Fprintf(out, "Change: %s\n", money.format(cart.Change(paid)))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&items, "item", "i", nil, "Product id, optionally id=qty (repeatable)")
	cmd.Flags().StringVarP(&method, "method", "m", string(store.PaymentCash), "Payment method: cash, card or pix")
	cmd.Flags().Float64Var(&discountPercent, "discount-percent", 0, "Sale discount as a percentage of the subtotal")
	cmd.Flags().Float64Var(&discountValue, "discount", 0, "Fixed sale discount")
	cmd.Flags().Float64Var(&paid, "paid", 0, "Amount tendered, to compute change")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the receipt without recording the sale")
	return cmd
}

type productGetter interface {
	ProductGet(ctx context.Context, id string) (*api.Product, error)
}

func fillCart(ctx context.Context, out io.Writer, products productGetter, cart *checkout.Cart, weigher checkout.Weigher, specs []itemSpec) error {
	for _, spec := range specs {
		lookupCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		p, err := products.ProductGet(lookupCtx, spec.productID)
		cancel()
		if err != nil {
			return fmt.Errorf("item %s: %w", spec.productID, err)
		}
		switch {
		case spec.hasQty:
			if err := cart.Add(*p, spec.qty); err != nil {
				return err
			}
		case p.UnitType.Weighed():
			fmt.Fprintf(out, "Weighing %s...\n", p.Name)
			qty, err := cart.AddWeighed(ctx, *p, weigher)
			if err != nil {
				if errors.Is(err, checkout.ErrNoWeight) {
					return fmt.Errorf("%w; place %s on the scale and retry", err, p.Name)
				}
				return err
			}
			fmt.Fprintf(out, "  %s\n", formatQty(qty, true))
		default:
			if err := cart.Add(*p, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderReceipt(cart *checkout.Cart, money moneyFormatter) string {
	lines := cart.Lines()
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []string{
			l.Name,
			formatQty(l.Qty, l.UnitType.Weighed()),
			money.format(l.UnitPrice),
			money.format(l.Amount()),
		})
	}
	if discount := cart.SaleDiscount(); discount > 0 {
		rows = append(rows, []string{"Discount", "", "", "-" + money.format(discount)})
	}
	return renderTable(
		[]string{"Item", "Qty", "Price", "Amount"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
		"Total", "", "", money.format(cart.Total()),
	)
}
