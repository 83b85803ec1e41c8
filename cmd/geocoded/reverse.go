package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"geocode_gateway/internal/api"
	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/lookup"
	"geocode_gateway/internal/rpc"
)

type ReverseCmd struct {
	Lat      float64       `long:"lat" required:"yes" description:"latitude in decimal degrees"`
	Lon      float64       `long:"lon" required:"yes" description:"longitude in decimal degrees"`
	GRPCAddr string        `long:"grpc-addr" description:"ask a running geocoded instead of the upstream directly"`
	Timeout  time.Duration `long:"timeout" default:"10s" description:"overall deadline"`

	root *Options
	out  io.Writer
}

func (c *ReverseCmd) Execute(_ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	key := cache.NewKey(c.Lat, c.Lon)
	if !key.Valid() {
		return lookup.ErrInvalidKey
	}
	entry, source, err := c.resolve(ctx, key)
	if err != nil {
		return err
	}

	resp := api.ReverseResponse{Lat: key.Lat, Lon: key.Lon, Found: entry.Found, Source: source}
	if entry.Found {
		name := entry.Name
		resp.DisplayName = &name
	}
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

func (c *ReverseCmd) resolve(ctx context.Context, key cache.Key) (cache.Entry, string, error) {
	if c.GRPCAddr != "" {
		client, err := rpc.Dial(c.GRPCAddr)
		if err != nil {
			return cache.Entry{}, "", err
		}
		defer client.Close()
		return client.Reverse(ctx, key)
	}

	configPath := ""
	if c.root != nil {
		configPath = c.root.Config
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return cache.Entry{}, "", err
	}
	coalescer, upstreamTransport, err := newCoalescer(cfg, nil)
	if err != nil {
		return cache.Entry{}, "", err
	}
	defer upstreamTransport.CloseIdleConnections()
	defer coalescer.Close()
	entry, source, err := coalescer.Lookup(ctx, key)
	return entry, string(source), err
}
