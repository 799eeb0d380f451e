// Command ladderctl talks to a running keeper's admin endpoint and inspects
// snapshot files offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const usage = `usage: ladderctl [-addr host:port] <command> [flags]

commands:
  status            print the keeper status
  reload            merge the saved snapshot into the running keeper
  recover           run a reconcile pass now
  dump -file PATH   print a snapshot file as YAML
`

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "keeper admin address")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = call(ctx, os.Stdout, http.MethodGet, *addr, "/admin/status")
	case "reload":
		err = call(ctx, os.Stdout, http.MethodPost, *addr, "/admin/reload")
	case "recover":
		err = call(ctx, os.Stdout, http.MethodPost, *addr, "/admin/recover")
	case "dump":
		err = dumpCmd(os.Stdout, flag.Args()[1:])
	default:
		err = errors.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ladderctl:", err)
		os.Exit(1)
	}
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

// call sends one admin request and pretty-prints the JSON answer.
func call(ctx context.Context, out io.Writer, method, addr, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, baseURL(addr)+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	var v any
	if err := sonic.Unmarshal(body, &v); err != nil {
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	pretty, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "format response")
	}
	fmt.Fprintln(out, string(pretty))

	if resp.StatusCode >= 300 {
		return errors.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}
