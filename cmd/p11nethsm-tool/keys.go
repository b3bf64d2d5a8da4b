package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/miekg/pkcs11"
	"github.com/spf13/cobra"

	"github.com/niclabs/p11nethsm/module"
	"github.com/niclabs/p11nethsm/objects"
)

func (t *tool) healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every configured instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := t.app.Context()
			views := make([]slotView, 0, len(t.app.Slots))
			for _, slot := range t.app.Slots {
				view := slotView{Slot: slot.ID, Label: slot.Config.Label, URL: slot.Config.URL}
				if info, err := slot.TokenInfo(ctx); err == nil {
					view.Ready = true
					view.Serial = info.SerialNumber
				}
				views = append(views, view)
			}
			return render(cmd.OutOrStdout(), t.output, views, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "SLOT\tLABEL\tURL\tSTATUS")
				for _, v := range views {
					status := "not ready"
					if v.Ready {
						status = "ready"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Slot, v.Label, v.URL, status)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&t.output, "output", "o", "", "output format: yaml or json")
	return cmd
}

func (t *tool) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect the keys of a slot",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the keys of the slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := t.find(objects.Attributes{})
			if err != nil {
				return err
			}
			keys := groupKeys(found, false)
			return render(cmd.OutOrStdout(), t.output, keys, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tTYPE\tSIZE\tOBJECTS")
				for _, k := range keys {
					kinds := make([]string, len(k.Objects))
					for i, o := range k.Objects {
						kinds[i] = o.Kind
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", k.ID, k.Type, k.Size, strings.Join(kinds, ","))
				}
			})
		},
	}
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the objects and attributes of one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := objects.Attributes{}
			filter.Set(pkcs11.CKA_ID, []byte(args[0]))
			found, err := t.find(filter)
			if err != nil {
				return err
			}
			keys := groupKeys(found, true)
			if len(keys) == 0 {
				return fmt.Errorf("key %q not found", args[0])
			}
			key := keys[0]
			return render(cmd.OutOrStdout(), t.output, key, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "id:\t%s\ntype:\t%s\nsize:\t%d\nmechanisms:\t%s\n",
					key.ID, key.Type, key.Size, strings.Join(key.Mechanisms, ", "))
				for _, o := range key.Objects {
					fmt.Fprintf(w, "\n%s\t(handle %d)\n", o.Kind, o.Handle)
					for _, a := range o.Attributes {
						fmt.Fprintf(w, "  %s\t%s\n", a.Type, a.Value)
					}
				}
			})
		},
	}
	cmd.PersistentFlags().StringVarP(&t.output, "output", "o", "", "output format: yaml or json")
	cmd.AddCommand(list, show)
	return cmd
}

// find runs a search on the slot and loads every object found.
func (t *tool) find(filter objects.Attributes) ([]*objects.CryptoObject, error) {
	ctx := t.app.Context()
	var found []*objects.CryptoObject
	err := t.session(func(s *module.Session) error {
		if err := s.FindInit(ctx, filter); err != nil {
			return err
		}
		defer s.FindFinal()
		for {
			handles, err := s.FindNext(64)
			if err != nil {
				return err
			}
			if len(handles) == 0 {
				return nil
			}
			for _, h := range handles {
				object, err := s.Object(ctx, h)
				if err != nil {
					return err
				}
				found = append(found, object)
			}
		}
	})
	return found, err
}
