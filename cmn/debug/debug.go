// Package debug provides lightweight assertion helpers for invariants that
// must never be false in correct code. No expvar or pprof wiring here:
// this core exposes no HTTP surface to hang them off of.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

// Assert panics (after logging) if cond is false. Reserved for invariants
// that must never be false in correct code, never for validating external
// input — callers validate that with cmn.Error, not Assert.
func Assert(cond bool, a ...interface{}) {
	if !cond {
		fail(a...)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		fail(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(a ...interface{}) {
	msg := fmt.Sprint(a...)
	glog.Errorf("assertion failed: %s", msg)
	glog.Flush()
	panic("assertion failed: " + msg)
}
