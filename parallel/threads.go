package parallel

import "runtime"
import "sync/atomic"

import "github.com/klauspost/cpuid/v2"

// threads is read by ForEach callers while SetThreads may run.
var threads atomic.Int32

func init() {
	n := cpuid.CPU.LogicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if max := runtime.GOMAXPROCS(0); n > max {
		n = max
	}
	SetThreads(n)
}

// Threads reports the number of goroutines layers should fan out to.
func Threads() int {
	return int(threads.Load())
}

// SetThreads overrides the detected thread count. Values below one reset it to one.
func SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	threads.Store(int32(n))
}

// CPU returns a short description of the detected processor.
func CPU() string {
	if cpuid.CPU.Supports(cpuid.AVX512F) {
		return cpuid.CPU.BrandName + " (avx512)"
	}
	if cpuid.CPU.Supports(cpuid.AVX2) {
		return cpuid.CPU.BrandName + " (avx2)"
	}
	return cpuid.CPU.BrandName
}
