package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"nexuspay/internal/catalog"
	"nexuspay/internal/shop"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Connect the wallet and list the product catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), consentFor(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.coord.Connect(cmd.Context()); err != nil {
			return kindError(err)
		}
		snap := a.session.Snapshot()
		fmt.Fprintf(cmd.OutOrStdout(), "account %s\n\n", snap.Account)
		return printCatalog(cmd.OutOrStdout(), snap.Catalog)
	},
}

var payAfterOrder bool

var orderCmd = &cobra.Command{
	Use:   "order <product-id>",
	Short: "Place an order for a product, and optionally pay for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("product id %q: %w", args[0], shop.ErrValidationFailed)
		}

		a, err := bootstrap(cmd.Context(), consentFor(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.coord.Connect(ctx); err != nil {
			return kindError(err)
		}
		if err := a.coord.Order(ctx, id); err != nil {
			return kindError(err)
		}
		order := a.session.Snapshot().CurrentOrder
		fmt.Fprintf(cmd.OutOrStdout(), "order %s placed for %s at %s ETH\n", order.OrderID, order.Name, order.Price)

		if !payAfterOrder {
			return nil
		}
		if err := a.coord.Pay(ctx); err != nil {
			return kindError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "order %s paid\n", order.OrderID)
		return nil
	},
}

var addProductCmd = &cobra.Command{
	Use:   "add-product <name> <price-eth>",
	Short: "List a new product in the catalog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), consentFor(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.coord.Connect(ctx); err != nil {
			return kindError(err)
		}
		if err := a.coord.AddProduct(ctx, args[0], args[1]); err != nil {
			return kindError(err)
		}
		return printCatalog(cmd.OutOrStdout(), a.session.Snapshot().Catalog)
	},
}

func init() {
	orderCmd.Flags().BoolVar(&payAfterOrder, "pay", false, "pay for the order once it is confirmed")
}

func printCatalog(out io.Writer, products []catalog.Product) error {
	if len(products) == 0 {
		fmt.Fprintln(out, "catalog is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE (ETH)\tAVAILABLE")
	for _, p := range products {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", p.ID, p.Name, p.Price, p.Available)
	}
	return w.Flush()
}

func kindError(err error) error {
	if kind := shop.ErrorKind(err); kind != "" {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}
