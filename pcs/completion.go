package main

import (
	"github.com/etnz/folio"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// completion describes the command line for shell completion. Install it
// with COMP_INSTALL=1 pcs.
func completion() *complete.Command {
	dates := predict.Set{"-1d", "-1w", "-1m", "-1y"}
	dated := func(flags map[string]complete.Predictor) *complete.Command {
		if flags == nil {
			flags = map[string]complete.Predictor{}
		}
		flags["d"] = dates
		return &complete.Command{Flags: flags}
	}

	var formats predict.Set
	for _, a := range folio.Adapters {
		formats = append(formats, a.Name())
	}

	return &complete.Command{
		Sub: map[string]*complete.Command{
			"import": {
				Flags: map[string]complete.Predictor{"format": formats, "n": predict.Nothing},
				Args:  predict.Files("*.csv"),
			},
			"fmt":      {},
			"snapshot": dated(map[string]complete.Predictor{"json": predict.Nothing}),
			"lots":     dated(nil),
			"history":  dated(nil),
			"tax":      dated(nil),
			"comment":  dated(map[string]complete.Predictor{"model": predict.Set{"gemini-2.5-pro", "gemini-2.5-flash"}}),
			"search":   {Args: predict.Something},
			"serve": {
				Flags: map[string]complete.Predictor{"addr": predict.Something, "origins": predict.Something},
			},
			"help":     {},
			"flags":    {},
			"commands": {},
		},
		Flags: map[string]complete.Predictor{
			"config": predict.Files("*.toml"),
			"ledger": predict.Files("*.jsonl"),
			"v":      predict.Nothing,
			"raw":    predict.Nothing,
		},
	}
}
