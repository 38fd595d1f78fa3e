package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"meatmarket/api"
	"meatmarket/session"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show the cart",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cart, err := cli.client.GetCart(cmd.Context())
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <product-id> <quantity>",
	Short: "Add a product to the cart",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := decimal.NewFromString(args[1])
		if err != nil || !qty.IsPositive() {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		cart, err := cli.client.AddToCart(cmd.Context(), args[0], qty)
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a product from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cart, err := cli.client.RemoveFromCart(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cli.client.ClearCart(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared")
		return nil
	},
}

var checkoutAddress, checkoutNotes string

var cartCheckoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place an order for the cart contents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		o, err := cli.client.PlaceOrder(cmd.Context(), api.PlaceOrderRequest{
			DeliveryAddress: checkoutAddress,
			Notes:           checkoutNotes,
		})
		if err != nil {
			return err
		}
		printOrder(cmd.OutOrStdout(), *o)
		fmt.Fprintf(cmd.OutOrStdout(), "Follow it with: meattrack track %s\n", o.ID)
		return nil
	},
}

func printCart(w io.Writer, cart *session.Cart) {
	if len(cart.Items) == 0 {
		fmt.Fprintln(w, "Cart is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tQTY\tPRICE")
	for _, it := range cart.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.Name, it.Quantity.String(), it.UnitPrice.Mul(it.Quantity).StringFixed(2))
	}
	tw.Flush()
	fmt.Fprintf(w, "Total: %s\n", cart.Total.StringFixed(2))
}

func init() {
	cartCheckoutCmd.Flags().StringVar(&checkoutAddress, "address", "", "delivery address")
	cartCheckoutCmd.Flags().StringVar(&checkoutNotes, "notes", "", "notes for the butcher")
	cartCheckoutCmd.MarkFlagRequired("address")
	cartCmd.AddCommand(cartAddCmd, cartRemoveCmd, cartClearCmd, cartCheckoutCmd)
}
