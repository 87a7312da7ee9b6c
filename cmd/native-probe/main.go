// Package main is a minimal diagnostic that verifies dynamic symbol
// loading works on this host. mem's vector path depends on native code
// (the statically linked sqlite vec0 module); when that path
// mysteriously degrades to the in-process fallback, this probe answers
// the first triage question: can this process dlopen and call into a
// shared library at all?
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ebitengine/purego"
)

func main() {
	fmt.Println("mem native loading probe")
	fmt.Printf("OS: %s, Arch: %s\n", runtime.GOOS, runtime.GOARCH)

	var libPath string
	switch runtime.GOOS {
	case "darwin":
		libPath = "/usr/lib/libSystem.B.dylib"
	case "linux":
		libPath = "libc.so.6"
	default:
		fmt.Printf("unsupported OS: %s\n", runtime.GOOS)
		os.Exit(1)
	}

	fmt.Printf("loading system library: %s\n", libPath)
	lib, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		fmt.Printf("FAIL: dlopen: %v\n", err)
		os.Exit(1)
	}
	defer purego.Dlclose(lib)
	fmt.Println("ok: library loaded")

	var getpid func() int32
	purego.RegisterLibFunc(&getpid, lib, "getpid")

	pid := getpid()
	fmt.Printf("pid via native call: %d, via Go: %d\n", pid, os.Getpid())
	if int(pid) != os.Getpid() {
		fmt.Println("FAIL: native call returned a different pid")
		os.Exit(1)
	}

	fmt.Println("ok: native symbol resolution and calls work on this host")
}
