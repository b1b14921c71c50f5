// Command logtail prints records from a local pebble ingest log.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"adsingest/pkg/sink"
)

func main() {
	var (
		path  string
		topic string
		limit int
		count bool
	)
	pflag.StringVar(&path, "path", "./.ingestlog", "pebble log directory")
	pflag.StringVar(&topic, "topic", "ads-metrics", "topic to read")
	pflag.IntVarP(&limit, "limit", "n", 20, "max records to print (0 = all)")
	pflag.BoolVar(&count, "count", false, "only print the number of records")
	pflag.Parse()

	log, err := sink.OpenPebble(path, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	if count {
		n, err := log.Count(topic)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(n)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	err = log.Scan(topic, limit, func(r sink.Record) bool {
		_ = enc.Encode(struct {
			At            string          `json:"at"`
			CorrelationID string          `json:"correlation_id"`
			Value         json.RawMessage `json:"value"`
		}{time.Unix(0, r.WrittenAt).UTC().Format(time.RFC3339Nano), r.CorrelationID, r.Value})
		return true
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
