package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/beetlebugorg/mitab/pkg/memlayer"
)

func (a *app) newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the attribute indexes of a table",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create TABLE FIELD...",
			Short: "Index the named fields",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withTable(args[0], func(l *memlayer.Layer) error {
					for _, name := range args[1:] {
						if err := l.CreateAttributeIndex(name); err != nil {
							return err
						}
						a.log.Info("index created", "table", args[0], "field", name)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "drop TABLE FIELD",
			Short: "Remove the index of a field",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withTable(args[0], func(l *memlayer.Layer) error {
					return l.DropAttributeIndex(args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "list TABLE",
			Short: "Print the indexed fields",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withTable(args[0], func(l *memlayer.Layer) error {
					return listIndexes(cmd.OutOrStdout(), l)
				})
			},
		},
		&cobra.Command{
			Use:   "lookup TABLE FIELD VALUE",
			Short: "Print the FIDs an index holds for a value",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withTable(args[0], func(l *memlayer.Layer) error {
					return lookup(cmd.OutOrStdout(), l, args[1], args[2])
				})
			},
		},
		&cobra.Command{
			Use:   "rebuild TABLE",
			Short: "Recreate every index from the table contents",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withTable(args[0], rebuild)
			},
		},
	)
	return cmd
}

// withTable opens path for index maintenance, runs fn on its layer and
// flushes the indexes.
func (a *app) withTable(path string, fn func(*memlayer.Layer) error) (err error) {
	ds, err := a.openTable(path, false)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()
	return fn(ds.MemLayer(tableName(path)))
}

func listIndexes(w io.Writer, l *memlayer.Layer) error {
	defn := l.Defn()
	for _, field := range l.Indexes().IndexedFields() {
		fd := defn.Field(field)
		if _, err := fmt.Fprintf(w, "%s\t%s\n", fd.Name, fd.Type); err != nil {
			return err
		}
	}
	return nil
}

func lookup(w io.Writer, l *memlayer.Layer, name, value string) error {
	field := l.Defn().FieldIndex(name)
	if field < 0 || l.Defn().IsSpecial(field) {
		return fmt.Errorf("table %s has no field %q", l.Name(), name)
	}
	idx := l.Indexes().Index(field)
	if idx == nil {
		return fmt.Errorf("field %s is not indexed", name)
	}
	v, err := parseCell(l.Defn().Field(field).Type, value)
	if err != nil {
		return fmt.Errorf("value %q for field %s: %w", value, name, err)
	}
	fids, err := idx.AllMatches(v)
	if err != nil {
		return err
	}
	for _, fid := range fids {
		if _, err := fmt.Fprintln(w, fid); err != nil {
			return err
		}
	}
	return nil
}

// rebuild drops every index, which removes the index files, and creates
// them again in the same order.
func rebuild(l *memlayer.Layer) error {
	defn := l.Defn()
	var names []string
	for _, field := range l.Indexes().IndexedFields() {
		names = append(names, defn.Field(field).Name)
	}
	for _, name := range names {
		if err := l.DropAttributeIndex(name); err != nil {
			return err
		}
	}
	for _, name := range names {
		if err := l.CreateAttributeIndex(name); err != nil {
			return err
		}
	}
	return nil
}
