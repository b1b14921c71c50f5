package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"adsingest/pkg/config"
)

const banner = `
 █████╗ ██████╗ ███████╗    ██╗███╗   ██╗ ██████╗ ███████╗███████╗████████╗
██╔══██╗██╔══██╗██╔════╝    ██║████╗  ██║██╔════╝ ██╔════╝██╔════╝╚══██╔══╝
███████║██║  ██║███████╗    ██║██╔██╗ ██║██║  ███╗█████╗  ███████╗   ██║   
██╔══██║██║  ██║╚════██║    ██║██║╚██╗██║██║   ██║██╔══╝  ╚════██║   ██║   
██║  ██║██████╔╝███████║    ██║██║ ╚████║╚██████╔╝███████╗███████║   ██║   
╚═╝  ╚═╝╚═════╝ ╚══════╝    ╚═╝╚═╝  ╚═══╝ ╚═════╝ ╚══════╝╚══════╝   ╚═╝   
`

// Print writes the startup banner to stdout.
func Print(eff config.EffectiveConfigResult, version string) {
	Fprint(os.Stdout, eff, version)
}

// Fprint writes the startup banner describing the effective config to w.
func Fprint(w io.Writer, eff config.EffectiveConfigResult, version string) {
	c := eff.Config
	if c == nil {
		c = config.Default()
	}
	src := strings.Join(eff.Sources, ", ")
	if src == "" {
		src = "defaults"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s (%s)\n", c.Addr(), c.Server.Engine)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	if eff.Path != "" {
		fmt.Fprintf(w, "Config:   %s\n", eff.Path)
	}
	fmt.Fprintf(w, "Sources:  %s\n", src)

	fmt.Fprintln(w, "\n== Pipeline ===================================================")
	fmt.Fprintf(w, "Queue:    %d items, payload <= %s\n", c.Ingest.QueueCapacity, humanize.IBytes(uint64(c.Ingest.MaxPayloadBytes)))
	fmt.Fprintf(w, "Batch:    %d items or %s (anchor=%s)\n", c.Batch.MaxSize, c.Batch.MaxWait.Duration(), c.Batch.WindowAnchor)
	fmt.Fprintf(w, "Drain:    %s\n", c.Shutdown.DrainTimeout.Duration())
	switch c.Sink.Type {
	case "kafka":
		fmt.Fprintf(w, "Sink:     kafka %s -> %s\n", strings.Join(c.Sink.Kafka.Brokers, ","), c.Sink.Topic)
	case "pebble":
		fmt.Fprintf(w, "Sink:     pebble %s -> %s\n", c.Sink.Pebble.Path, c.Sink.Topic)
		if r := c.Sink.Pebble.Retention; r.Enabled {
			fmt.Fprintf(w, "- Retention: enabled (cron=%s, period=%s)\n", r.Cron, r.Period.Duration())
		} else {
			fmt.Fprintln(w, "- Retention: disabled")
		}
	default:
		fmt.Fprintf(w, "Sink:     %s -> %s\n", c.Sink.Type, c.Sink.Topic)
		fmt.Fprintln(w, "- memory sink keeps nothing across restarts")
	}

	fmt.Fprintln(w, "\n== Endpoints ==================================================")
	fmt.Fprintln(w, "POST /ingest, /v1/events - accept one JSON ad metric")
	fmt.Fprintln(w, "GET  /healthz /readyz /metrics /docs/")
	fmt.Fprintf(w, "curl -X POST 'http://localhost%s/ingest' -d '{\"ad_id\":\"a1\",\"event\":\"click\"}'\n", portOnly(c.Addr()))

	fmt.Fprintln(w, "\n== Logs: =================================================")
}

func portOnly(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return addr
}
