package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

// newQlogCmd builds the "qlog" subcommand, a pretty-printer for the
// JSON-lines trace a server or client writes when logging is pointed at
// a file (see quic.Client.SetLogger / quic.Server.SetLogger); each line
// is one logrus entry keyed by connection id, mirroring the per-trace
// grouping golang.org/x/net/internal/quic/qlog produces per connection.
func newQlogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qlog <file>",
		Short: "Pretty-print a connection trace written by --v/-SetLogger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return printQlog(cmd.OutOrStdout(), f)
		},
	}
	return cmd
}

func printQlog(w io.Writer, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		printEntry(w, entry)
	}
	return scanner.Err()
}

func printEntry(w io.Writer, entry map[string]interface{}) {
	msg, _ := entry["msg"].(string)
	cid, _ := entry["cid"].(string)
	ts, _ := entry["time"].(string)
	fmt.Fprintf(w, "%-24s cid=%-18s %s", ts, cid, msg)

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "msg", "cid", "time", "level":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, " %s=%v", k, entry[k])
	}
	fmt.Fprintln(w)
}
