package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-sdn/pkg/config"
	"github.com/dd0wney/cluso-sdn/pkg/controller"
	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

func newTopology(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Inspect and complete topology documents",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newTopologyShow(flags), newTopologyGenerate(flags))
	return cmd
}

func newTopologyShow(flags *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the completed topology as tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			if file != "" {
				cfg.Topology.File = file
			}
			g, err := completeTopology(background(cmd), cfg, logger)
			if err != nil {
				return err
			}
			renderTopology(cmd.OutOrStdout(), g)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "topology file (default from configuration)")
	return cmd
}

func newTopologyGenerate(flags *globalFlags) *cobra.Command {
	var file, out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Complete a topology document with generated links and routes",
		Long: `Generate loads a topology document, synthesises nodes, links and routes
the same way the controller does, and writes the resulting document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, logger, err := flags.setup()
			if err != nil {
				return err
			}
			if file != "" {
				cfg.Topology.File = file
			}
			g, err := completeTopology(background(cmd), cfg, logger)
			if err != nil {
				return err
			}
			data, err := g.Document().Encode()
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "topology file (default from configuration)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

// completeTopology runs a controller long enough to load the document once.
// Nothing is persisted.
func completeTopology(ctx context.Context, cfg *config.Config, logger logging.Logger) (*topology.Graph, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := eventloop.New(clockwork.NewRealClock(), logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ctrl, err := controller.New(controller.Config{
		File:          cfg.Topology.File,
		Sources:       cfg.Topology.Sources,
		LinkGenerator: cfg.Topology.LinkGenerator,
		PrefixLen:     cfg.Topology.PrefixLen,
		MaxNodeID:     cfg.Topology.MaxNodeID,
	}, controller.Deps{Loop: loop, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := ctrl.Load(ctx); err != nil {
		return nil, err
	}
	return ctrl.Graph(), nil
}

func renderTopology(w io.Writer, g *topology.Graph) {
	name := func(id uint64) string {
		if n, ok := g.Node(id); ok {
			return n.Name
		}
		return strconv.FormatUint(id, 10)
	}

	fmt.Fprintln(w, "NODES")
	nodes := newTable(w, "DPID", "NAME", "KIND", "HOSTNAME", "PORTS")
	for _, n := range g.Nodes() {
		kind := "switch"
		if n.External {
			kind = "external"
		}
		var ports []string
		for _, num := range n.PortNumbers() {
			p := n.Ports[num]
			s := strconv.Itoa(num)
			if p.IP.IsValid() {
				s += "=" + p.IP.String()
			}
			ports = append(ports, s)
		}
		nodes.Append([]string{topology.FormatDPID(n.ID), n.Name, kind, n.Hostname, strings.Join(ports, " ")})
	}
	nodes.Render()

	fmt.Fprintln(w, "\nLINKS")
	links := newTable(w, "A", "PORT", "B", "PORT", "PROPS")
	for _, l := range g.Links() {
		links.Append([]string{
			name(l.A), strconv.Itoa(l.PortA),
			name(l.B), strconv.Itoa(l.PortB),
			strings.Join(l.Props, ","),
		})
	}
	links.Render()

	fmt.Fprintln(w, "\nROUTES")
	routes := newTable(w, "PATH", "PROPS")
	for _, r := range g.Routes() {
		hops := make([]string, len(r.Hops))
		for i, id := range r.Hops {
			hops[i] = name(id)
		}
		routes.Append([]string{strings.Join(hops, "-"), strings.Join(r.Props, ",")})
	}
	routes.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}
