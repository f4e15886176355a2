//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
)

// Placeholder so non-linux builds compile; the mirror needs SocketCAN.
func initMirror(ctx context.Context, cfg *appConfig, l *slog.Logger) (*mirror, error) {
	if cfg.canIf != "" {
		return nil, fmt.Errorf("socketcan mirror unsupported on this platform")
	}
	return nil, nil
}
