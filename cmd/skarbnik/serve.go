package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	apphttp "skarbnik/internal/http"
)

const shutdownGrace = 10 * time.Second

// serve exposes the ledger as a JSON API until ctx is cancelled.
func (a *app) serve(ctx context.Context, args []string) error {
	fs := a.flagSet("serve")
	addr := fs.String("addr", a.httpAddr, "listen address host:port")
	proxies := fs.String("trusted-proxies", "", "comma-separated CIDRs allowed to set forwarding headers")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErr("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	srv, err := apphttp.NewServer(*addr, a.ledger, a.logger, apphttp.Config{
		RequestsPerMinute: a.rateLimit,
		TrustedProxies:    splitIDs(*proxies),
	})
	if err != nil {
		return fmt.Errorf("configure server: %w", err)
	}
	fmt.Fprintf(a.stdout, "Serving ledger on http://%s\n", *addr)
	return srv.Serve(ctx, shutdownGrace)
}
