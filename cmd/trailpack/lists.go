package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/mutation"
)

func (a *app) coordinator() *mutation.Coordinator {
	return mutation.New(a.client, mutation.WithTimeout(a.timeout), mutation.WithLogger(a.logger))
}

// loaded returns a coordinator seeded with the current lists, for commands
// that act on what the user sees.
func (a *app) loaded(ctx context.Context) (*mutation.Coordinator, error) {
	current, err := a.client.Lists(ctx)
	if err != nil {
		return nil, err
	}
	coord := a.coordinator()
	coord.Reconcile(current)
	return coord, nil
}

// parseItemNumber turns a 1-based item number into an index.
func parseItemNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("item number must be a positive integer, got %q", arg)
	}
	return n - 1, nil
}

func (a *app) listsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "lists",
		Aliases: []string{"ls"},
		Short:   "Show your equipment lists",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			all, err := a.client.Lists(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLists(all, nil))
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create TITLE [ITEM...]",
		Short: "Create a list",
		Long: `Create a list with a title and at least one item. Items may be given as
arguments or with repeated --item flags. Blank items are dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, _ := cmd.Flags().GetStringArray("item")
			items := append(append([]string{}, args[1:]...), extra...)

			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			created, err := a.coordinator().Create(ctx, args[0], items)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderList(created, false))
			return nil
		},
	}
	cmd.Flags().StringArray("item", nil, "item to add (repeatable)")
	return cmd
}

func (a *app) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename LIST_ID TITLE",
		Short: "Rename a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			updated, err := a.coordinator().Rename(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderList(updated, false))
			return nil
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add LIST_ID ITEM",
		Short: "Add an item to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			updated, err := a.coordinator().AppendItem(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderList(updated, false))
			return nil
		},
	}
}

func (a *app) checkCmd(use string, checked bool) *cobra.Command {
	short := "Mark an item as packed"
	if !checked {
		short = "Mark an item as not packed"
	}
	return &cobra.Command{
		Use:   use + " LIST_ID ITEM_NUMBER",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseItemNumber(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			updated, err := a.coordinator().SetItemChecked(ctx, args[0], index, checked)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderList(updated, false))
			return nil
		},
	}
}

func (a *app) toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle LIST_ID ITEM_NUMBER",
		Short: "Flip an item between packed and not packed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseItemNumber(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			coord, err := a.loaded(ctx)
			if err != nil {
				return err
			}
			updated, err := coord.ToggleItem(ctx, args[0], index)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderList(updated, false))
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete LIST_ID",
		Aliases: []string{"rm"},
		Short:   "Delete a list",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			coord, err := a.loaded(ctx)
			if err != nil {
				return err
			}

			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				name := args[0]
				if l, ok := find(coord.Lists(), args[0]); ok {
					name = l.Title
				}
				answer, err := newPrompter(cmd).ask(fmt.Sprintf("Delete %q? [y/N]", name))
				if err != nil {
					return err
				}
				if reply := strings.ToLower(strings.TrimSpace(answer)); reply != "y" && reply != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing deleted.")
					return nil
				}
			}

			if err := coord.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "delete without asking")
	return cmd
}

func find(all []lists.EquipmentList, id string) (lists.EquipmentList, bool) {
	for _, l := range all {
		if l.ID == id {
			return l, true
		}
	}
	return lists.EquipmentList{}, false
}
