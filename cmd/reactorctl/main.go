package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	api "reactorstate/pkg/reactorstate"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

type globalFlags struct {
	configPath string
	storeKind  string
	dbPath     string
	syncWrites bool
}

func (g *globalFlags) client(ctx context.Context) (*api.Client, error) {
	c, err := api.New(api.Options{
		ConfigPath: g.configPath,
		StoreKind:  g.storeKind,
		DBPath:     g.dbPath,
		SyncWrites: g.syncWrites,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// withClient runs fn against a client built from the global flags and
// closes it afterwards.
func (g *globalFlags) withClient(fn func(ctx context.Context, c *api.Client, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		c, err := g.client(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = c.Close()
		}()
		return fn(cmd.Context(), c, cmd.OutOrStdout())
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "reactorctl",
		Short:         "Build, inspect and shuffle reactor state snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "settings file (YAML)")
	pf.StringVar(&g.storeKind, "store", "", "store backend: memory|sqlite|badger")
	pf.StringVar(&g.dbPath, "db-path", "", "database file or directory")
	pf.BoolVar(&g.syncWrites, "sync", false, "sync every write to disk")

	root.AddCommand(
		newBuildCmd(&g),
		newSnapshotsCmd(&g),
		newShowCmd(&g),
		newSwapCmd(&g),
		newShuffleCmd(&g),
		newDischargeCmd(&g),
		newRollUpCmd(&g),
		newDeleteCmd(&g),
		newExportCmd(&g),
		newParamsCmd(&g),
	)
	return root
}

func snapshotFlags(cmd *cobra.Command, ref *api.SnapshotRef) {
	cmd.Flags().IntVar(&ref.Cycle, "cycle", 0, "cycle")
	cmd.Flags().IntVar(&ref.TimeNode, "node", 0, "time node within the cycle")
}

func newBuildCmd(g *globalFlags) *cobra.Command {
	var req api.BuildRequest
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the configured blueprint and write it as a snapshot",
		Args:  cobra.NoArgs,
	}
	snapshotFlags(cmd, &req.At)
	cmd.Flags().BoolVar(&req.Force, "force", false, "replace an existing snapshot")
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		s, err := c.Build(ctx, req)
		if err != nil {
			return err
		}
		printSummary(out, "built", s)
		return nil
	})
	return cmd
}

func newSnapshotsCmd(g *globalFlags) *cobra.Command {
	var req api.SnapshotsRequest
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored snapshots in order",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum number of snapshots (0 lists all)")
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		snaps, err := c.Snapshots(ctx, req)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			printSummary(out, "snapshot", s)
		}
		return nil
	})
	return cmd
}

func newShowCmd(g *globalFlags) *cobra.Command {
	var (
		req    api.ShowRequest
		params []string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the tree of a snapshot",
		Args:  cobra.NoArgs,
	}
	snapshotFlags(cmd, &req.At)
	cmd.Flags().StringVar(&req.Subtree, "subtree", "", "load only the named node and its descendants")
	cmd.Flags().StringSliceVar(&params, "params", nil, "parameters to load (default all)")
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		if cmd.Flags().Changed("params") {
			req.Parameters = append([]string{}, params...)
		}
		items, err := c.Show(ctx, req)
		if err != nil {
			return err
		}
		for _, it := range items {
			printNode(out, it)
		}
		return nil
	})
	return cmd
}

func newSwapCmd(g *globalFlags) *cobra.Command {
	var req api.SwapRequest
	cmd := &cobra.Command{
		Use:   "swap A B",
		Short: "Swap two assemblies and write the next time node",
		Args:  cobra.ExactArgs(2),
	}
	snapshotFlags(cmd, &req.From)
	runE := g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		s, err := c.Swap(ctx, req)
		if err != nil {
			return err
		}
		printSummary(out, "swapped "+req.A+" "+req.B, s)
		return nil
	})
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		req.A, req.B = args[0], args[1]
		return runE(cmd, args)
	}
	return cmd
}

func newShuffleCmd(g *globalFlags) *cobra.Command {
	var req api.ShuffleRequest
	cmd := &cobra.Command{
		Use:   "shuffle",
		Short: "Move every assembly of a ring one position forward",
		Args:  cobra.NoArgs,
	}
	snapshotFlags(cmd, &req.From)
	cmd.Flags().IntVar(&req.Ring, "ring", 2, "ring to shuffle")
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		s, err := c.Shuffle(ctx, req)
		if err != nil {
			return err
		}
		printSummary(out, fmt.Sprintf("shuffled ring %d", req.Ring), s)
		return nil
	})
	return cmd
}

func newDischargeCmd(g *globalFlags) *cobra.Command {
	var req api.DischargeRequest
	cmd := &cobra.Command{
		Use:   "discharge ASSEMBLY",
		Short: "Move an assembly to the spent fuel history",
		Args:  cobra.ExactArgs(1),
	}
	snapshotFlags(cmd, &req.From)
	runE := g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		s, err := c.Discharge(ctx, req)
		if err != nil {
			return err
		}
		printSummary(out, "discharged "+req.Assembly, s)
		return nil
	})
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		req.Assembly = args[0]
		return runE(cmd, args)
	}
	return cmd
}

func newRollUpCmd(g *globalFlags) *cobra.Command {
	var req api.RollUpRequest
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Roll parameters up the tree and write the next time node",
		Args:  cobra.NoArgs,
	}
	snapshotFlags(cmd, &req.From)
	cmd.Flags().StringVar(&req.Parameter, "param", "", "parameter to roll up (default all)")
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		s, err := c.RollUp(ctx, req)
		if err != nil {
			return err
		}
		printSummary(out, "rolled up", s)
		return nil
	})
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var at api.SnapshotRef
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a snapshot",
		Args:  cobra.NoArgs,
	}
	snapshotFlags(cmd, &at)
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		deleted, err := c.Delete(ctx, at)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted=%t cycle=%d node=%d\n", deleted, at.Cycle, at.TimeNode)
		return nil
	})
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var req api.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot's node table and summary to a directory",
		Args:  cobra.NoArgs,
	}
	snapshotFlags(cmd, &req.At)
	cmd.Flags().StringVar(&req.OutDir, "out", "exports", "export base directory")
	cmd.RunE = g.withClient(func(ctx context.Context, c *api.Client, out io.Writer) error {
		dir, err := c.Export(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "exported cycle=%d node=%d dir=%s\n", req.At.Cycle, req.At.TimeNode, dir)
		return nil
	})
	return cmd
}

func newParamsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "List the registered parameters",
		Args:  cobra.NoArgs,
		RunE: g.withClient(func(_ context.Context, c *api.Client, out io.Writer) error {
			for _, line := range c.Parameters() {
				fmt.Fprintln(out, line)
			}
			return nil
		}),
	}
}

func printSummary(out io.Writer, what string, s api.SnapshotSummary) {
	fmt.Fprintf(out, "%s cycle=%d node=%d nodes=%d params=%s bytes=%d raw=%d lineage=%s\n",
		what, s.Cycle, s.TimeNode, s.Nodes, strings.Join(s.Parameters, ","), s.EncodedBytes, s.RawBytes, s.Lineage)
}

func printNode(out io.Writer, it api.NodeItem) {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", it.Depth))
	fmt.Fprintf(&b, "%s [%s]", it.Name, it.Kind)
	if it.Placed {
		b.WriteString(" at " + it.Coord)
	}
	if it.Retained {
		b.WriteString(" retained")
	}
	for _, name := range it.ParamNames() {
		fmt.Fprintf(&b, " %s=%s", name, it.Params[name])
	}
	fmt.Fprintln(out, b.String())
}
