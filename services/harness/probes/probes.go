// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probes provides built-in benchmarks used to sanity-check a host
// and the harness itself.
//
// Importing the package registers every probe on harness.DefaultRegistry.
// Use All to obtain fresh definitions for a private registry.
package probes

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"math"
	"strconv"

	"github.com/AleutianAI/benchkit/services/harness"
)

// Probe names.
const (
	NameSqrt      = "math.sqrt"
	NameCos       = "math.cos"
	NameSHA256    = "crypto.sha256"
	NameJSON      = "encoding.json.marshal"
	NameMapInsert = "map.insert"
)

const (
	hashBlockSize = 4096
	mapSlots      = 1024
)

// Sink receives probe results so the compiler cannot discard the work.
var (
	Sink      float64
	SinkBytes [sha256.Size]byte
	SinkLen   int
)

func init() {
	if err := Register(harness.DefaultRegistry); err != nil {
		panic(err)
	}
}

// Register adds a fresh copy of every probe to reg.
func Register(reg *harness.Registry) error {
	for _, def := range All() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// All returns new probe definitions, each with its own state, in a fixed
// order.
func All() []*harness.Definition {
	return []*harness.Definition{
		sqrtProbe(),
		cosProbe(),
		sha256Probe(),
		jsonProbe(),
		mapInsertProbe(),
	}
}

// scalar holds the input of the math probes. It is set in setup so the
// measured call cannot be constant-folded.
type scalar struct {
	data float64
}

func (s *scalar) setUp(context.Context) error {
	s.data = 3.0
	return nil
}

func sqrtProbe() *harness.Definition {
	s := &scalar{}
	return harness.MustDefinition(NameSqrt, harness.ModeAverageTime,
		func() error {
			Sink = math.Sqrt(s.data)
			return nil
		},
		harness.WithSetup(s.setUp),
	)
}

func cosProbe() *harness.Definition {
	s := &scalar{}
	return harness.MustDefinition(NameCos, harness.ModeAverageTime,
		func() error {
			Sink = math.Cos(s.data)
			return nil
		},
		harness.WithSetup(s.setUp),
	)
}

func sha256Probe() *harness.Definition {
	var block []byte
	return harness.MustDefinition(NameSHA256, harness.ModeThroughput,
		func() error {
			SinkBytes = sha256.Sum256(block)
			return nil
		},
		harness.WithSetup(func(context.Context) error {
			block = make([]byte, hashBlockSize)
			for i := range block {
				block[i] = byte(i * 31)
			}
			return nil
		}),
		harness.WithTeardown(func(context.Context) error {
			block = nil
			return nil
		}),
		harness.WithParam("blockSize", strconv.Itoa(hashBlockSize)),
	)
}

type jsonRecord struct {
	Name    string            `json:"name"`
	Score   float64           `json:"score"`
	Samples []float64         `json:"samples"`
	Labels  map[string]string `json:"labels"`
}

func jsonProbe() *harness.Definition {
	var rec *jsonRecord
	return harness.MustDefinition(NameJSON, harness.ModeAverageTime,
		func() error {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			SinkLen = len(data)
			return nil
		},
		harness.WithSetup(func(context.Context) error {
			rec = &jsonRecord{
				Name:    "probe",
				Score:   math.Pi,
				Samples: []float64{1.5, 2.25, 3.125, 4.0625},
				Labels:  map[string]string{"host": "local", "unit": "ns/op"},
			}
			return nil
		}),
	)
}

func mapInsertProbe() *harness.Definition {
	var (
		m map[int]int
		k int
	)
	return harness.MustDefinition(NameMapInsert, harness.ModeAverageTime,
		func() error {
			m[k%mapSlots] = k
			k++
			return nil
		},
		harness.WithSetup(func(context.Context) error {
			m = make(map[int]int, mapSlots)
			k = 0
			return nil
		}),
		harness.WithTeardown(func(context.Context) error {
			SinkLen = len(m)
			m = nil
			return nil
		}),
		harness.WithParam("slots", strconv.Itoa(mapSlots)),
	)
}
