/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	const base = "/debug/pprof"

	mux.HandlerFunc("GET", cfg.prefix+base+"/", pprof.Index)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handler("GET", cfg.prefix+base+"/"+name, pprof.Handler(name))
	}
	mux.HandlerFunc("GET", cfg.prefix+base+"/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", cfg.prefix+base+"/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.prefix+base+"/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", cfg.prefix+base+"/trace", pprof.Trace)

	logf(cfg, "START: Registered pprof handlers under %s%s/", cfg.prefix, base)
}
