package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HMasataka/conduit/logging"
	"github.com/HMasataka/conduit/pkg/httpcodec"
	"github.com/HMasataka/conduit/pkg/network"
	"github.com/HMasataka/conduit/pkg/transport"
)

type headerFlags []httpcodec.Header

func (h *headerFlags) String() string {
	parts := make([]string, 0, len(*h))
	for _, header := range *h {
		parts = append(parts, header.Key+": "+header.Value)
	}
	return strings.Join(parts, ", ")
}

func (h *headerFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("header must be key:value, got %q", value)
	}
	*h = append(*h, httpcodec.Header{Key: strings.TrimSpace(key), Value: strings.TrimSpace(val)})
	return nil
}

func main() {
	method := flag.String("method", "GET", "HTTP method")
	body := flag.String("body", "", "request body")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	logLevel := flag.String("log-level", "warn", "log level")

	var headers headerFlags
	flag.Var(&headers, "header", "request header as key:value (repeatable)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fetch [flags] <url>")
		os.Exit(2)
	}

	logger := logging.New(logging.Config{Level: *logLevel, Format: "pretty"})

	manager := network.NewManager(network.WithLogger(logger))
	transport.RegisterDefaults(manager)

	client := httpcodec.NewClient(manager, logger)

	resp, err := client.Do(context.Background(), flag.Arg(0), *method, headers, []byte(*body), *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("%d %s\n", resp.StatusCode, resp.StatusText)
	fmt.Println(resp.Headers)
	os.Stdout.Write(resp.Body)
	fmt.Println()
}
