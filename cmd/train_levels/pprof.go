package main

import "os"
import "runtime/pprof"

// profile collects a cpu profile into default.pgo until the returned function is called.
func profile() (stop func()) {
	f, err := os.Create("default.pgo")
	if err != nil {
		println(err.Error())
		return func() {}
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		println(err.Error())
		f.Close()
		return func() {}
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}
}
