//go:build debug

/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "fmt"

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if cond {
		return
	}
	if len(args) == 0 {
		panic("assertion failed")
	}
	panic(fmt.Sprintln(args...))
}

func Assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func AssertFunc(f func() bool, args ...any) {
	Assert(f(), args...)
}
