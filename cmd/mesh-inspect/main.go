package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/meshviz/mesh-stream/pkg/meshcore"
)

type globals struct {
	API     string  `default:"http://localhost:8077" help:"Base URL of the mesh REST API."`
	Window  int64   `help:"Only include packets from the last N seconds."`
	Port    []int32 `help:"Only include these port numbers."`
	Channel *int32  `help:"Only include this channel."`
	Gateway string  `help:"Only include packets heard by this gateway."`
	Limit   int     `help:"Row limit where the endpoint supports one."`
}

func (g *globals) query() meshcore.FilterQuery {
	return meshcore.FilterQuery{
		Window:   g.Window,
		Portnums: g.Port,
		Channel:  g.Channel,
		Gateway:  g.Gateway,
		Limit:    g.Limit,
	}
}

func (g *globals) client() *meshcore.Client {
	return meshcore.NewClient(g.API)
}

type healthCmd struct{}

func (c *healthCmd) Run(g *globals) error {
	h, ok := g.client().Health(context.Background())
	if !ok {
		return fmt.Errorf("health endpoint unreachable")
	}
	fmt.Printf("status: %s\nbroker: %s\ntopic:  %s\n", h.Status, h.Broker, h.Topic)
	return nil
}

type nodesCmd struct{}

func (c *nodesCmd) Run(g *globals) error {
	rows, ok := g.client().Nodes(context.Background(), g.query())
	if !ok {
		return fmt.Errorf("nodes endpoint unreachable")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSHORT\tLONG\tPACKETS\tRSSI\tSNR\tLAST SEEN")
	for _, n := range rows {
		fmt.Fprintf(w, "!%08x\t%s\t%s\t%d\t%s\t%s\t%s\n",
			n.NodeID, n.ShortName, n.LongName, n.PacketCount,
			fmtFloat(n.AvgRSSI), fmtFloat(n.AvgSNR), fmtTime(n.LastSeen))
	}
	return w.Flush()
}

type portsCmd struct{}

func (c *portsCmd) Run(g *globals) error {
	rows, ok := g.client().Ports(context.Background(), g.query())
	if !ok {
		return fmt.Errorf("ports endpoint unreachable")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tNAME\tCOUNT\tLAST SEEN")
	for _, p := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", p.Portnum, p.Portname, p.Count, fmtTime(p.LastSeen))
	}
	return w.Flush()
}

type channelsCmd struct{}

func (c *channelsCmd) Run(g *globals) error {
	rows, ok := g.client().Channels(context.Background(), g.query())
	if !ok {
		return fmt.Errorf("channels endpoint unreachable")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tCOUNT\tLAST SEEN")
	for _, ch := range rows {
		fmt.Fprintf(w, "%d\t%d\t%s\n", ch.Channel, ch.Count, fmtTime(ch.LastSeen))
	}
	return w.Flush()
}

type metricsCmd struct{}

func (c *metricsCmd) Run(g *globals) error {
	m, ok := g.client().Metrics(context.Background(), g.query())
	if !ok {
		return fmt.Errorf("metrics endpoint unreachable")
	}
	fmt.Printf("packets/min:  %.1f\n", m.PacketsPerMin)
	fmt.Printf("active nodes: %d\n", m.ActiveNodes)
	fmt.Printf("median rssi:  %s\n", fmtFloat(m.MedianRSSI))
	fmt.Printf("median snr:   %s\n", fmtFloat(m.MedianSNR))
	for _, p := range m.TopPorts {
		fmt.Printf("  %-20s %d\n", p.Portname, p.Count)
	}
	return nil
}

type graphCmd struct{}

func (c *graphCmd) Run(g *globals) error {
	gr, ok := g.client().Graph(context.Background(), g.query())
	if !ok {
		return fmt.Errorf("graph endpoint unreachable")
	}
	fmt.Printf("%d nodes, %d links\n", len(gr.Nodes), len(gr.Links))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTARGET\tPORT\tCOUNT\tLAST SEEN")
	for _, l := range gr.Links {
		fmt.Fprintf(w, "!%08x\t!%08x\t%s\t%d\t%s\n", l.Source, l.Target, l.Portname, l.Count, fmtTime(l.LastSeen))
	}
	return w.Flush()
}

type packetsCmd struct{}

func (c *packetsCmd) Run(g *globals) error {
	rows, ok := g.client().Packets(context.Background(), g.query())
	if !ok {
		return fmt.Errorf("packets endpoint unreachable")
	}
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tFROM\tTO\tPORT\tTEXT")
	for _, p := range rows {
		p.Normalize(now)
		text, _ := p.MessageText()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			fmtTime(p.CreatedAt), p.FromLabel, p.ToLabel, p.Portname, text)
	}
	return w.Flush()
}

type nodeCmd struct {
	ID uint32 `arg:"" help:"Node id to inspect."`
}

func (c *nodeCmd) Run(g *globals) error {
	d, ok := g.client().NodeDetail(context.Background(), c.ID, g.query())
	if !ok {
		return fmt.Errorf("node endpoint unreachable")
	}
	fmt.Printf("node !%08x  %s / %s\n", d.Node.NodeID, d.Node.ShortName, d.Node.LongName)
	fmt.Printf("packets: %d  last seen: %s\n\n", d.Node.PacketCount, fmtTime(d.Node.LastSeen))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tCOUNT\tLAST SEEN")
	for _, p := range d.Ports {
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.Portname, p.Count, fmtTime(p.LastSeen))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tCOUNT\tLAST SEEN")
	for _, p := range d.Peers {
		fmt.Fprintf(w, "!%08x\t%d\t%s\n", p.PeerID, p.Count, fmtTime(p.LastSeen))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	now := time.Now()
	for _, p := range d.Packets {
		p.Normalize(now)
		for _, route := range p.RoutePaths() {
			fmt.Printf("route: %s\n", routeString(route))
		}
	}
	return nil
}

func routeString(r meshcore.RoutePath) string {
	out := ""
	for i, hop := range r.Hops {
		if i > 0 {
			out += " -> "
		}
		out += fmt.Sprintf("!%08x", hop)
	}
	if r.Return {
		out += " (return)"
	}
	return out
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *f)
}

func fmtTime(epoch int64) string {
	if epoch == 0 {
		return "-"
	}
	return time.Unix(epoch, 0).Format("2006-01-02 15:04:05")
}

var cliRoot struct {
	globals

	Health   healthCmd   `cmd:"" help:"Check backend health."`
	Nodes    nodesCmd    `cmd:"" help:"List known nodes."`
	Ports    portsCmd    `cmd:"" help:"List traffic by port."`
	Channels channelsCmd `cmd:"" help:"List traffic by channel."`
	Metrics  metricsCmd  `cmd:"" help:"Show aggregate metrics."`
	Graph    graphCmd    `cmd:"" help:"Dump the link graph."`
	Packets  packetsCmd  `cmd:"" help:"Show recent packets."`
	Node     nodeCmd     `cmd:"" help:"Inspect one node."`
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	ctx := kong.Parse(&cliRoot)
	if err := ctx.Run(&cliRoot.globals); err != nil {
		log.Fatal(err)
	}
}
