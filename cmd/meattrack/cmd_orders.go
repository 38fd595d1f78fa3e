package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"meatmarket/protocol"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List your orders",
	RunE: func(cmd *cobra.Command, _ []string) error {
		orders, err := cli.client.ListOrders(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tITEMS\tTOTAL\tUPDATED")
		for _, o := range orders {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", o.ID, o.Status, len(o.Items), o.Total.StringFixed(2), formatTime(o))
		}
		return tw.Flush()
	},
}

var orderCmd = &cobra.Command{
	Use:   "order [id]",
	Short: "Show one order (defaults to the current order)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := orderArg(args)
		if err != nil {
			return err
		}
		o, err := cli.client.GetOrder(cmd.Context(), id)
		if err != nil {
			return err
		}
		printOrder(cmd.OutOrStdout(), o)
		return nil
	},
}

func orderArg(args []string) (protocol.OrderID, error) {
	if len(args) > 0 && args[0] != "" {
		return protocol.OrderID(args[0]), nil
	}
	if id := cli.sess.CurrentOrder(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no order id given and no current order")
}

func formatTime(o protocol.Order) string {
	if o.UpdatedAt.IsZero() {
		return "-"
	}
	return o.UpdatedAt.Local().Format("2006-01-02 15:04")
}

func printOrder(w io.Writer, o protocol.Order) {
	fmt.Fprintf(w, "Order %s  %s  (updated %s)\n", o.ID, o.Status, formatTime(o))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range o.Items {
		name := it.Name
		if it.Cut != "" {
			name += " (" + it.Cut + ")"
		}
		fmt.Fprintf(tw, "  %s\t%s %s\t%s\n", name, it.Quantity.String(), it.Unit, it.UnitPrice.Mul(it.Quantity).StringFixed(2))
	}
	tw.Flush()
	fmt.Fprintf(w, "  Total: %s\n", o.Total.StringFixed(2))
}
