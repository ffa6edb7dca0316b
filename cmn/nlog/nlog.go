// Package nlog is the relay's process logger: buffered, leveled, timestamped.
// Adapted from the teacher's hand-rolled logger (see DESIGN.md) and trimmed
// to what a single long-lived relay process needs: no rotation, no per-CPU
// buffer pool, just a mutex-guarded bufio.Writer flushed on a ticker and on
// every Warn/Error.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChar = "IWE"

var (
	mu      sync.Mutex
	out     = bufio.NewWriter(os.Stderr)
	outFile *os.File
	flushIv = 5 * time.Second
	once    sync.Once
)

// SetOutput redirects the logger; intended for process startup (e.g. to a
// file opened by the caller) and for tests. Passing an *os.File lets Flush
// sync the descriptor on exit.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out.Flush()
	out = bufio.NewWriter(w)
	if f, ok := w.(*os.File); ok {
		outFile = f
	} else {
		outFile = nil
	}
}

func startAutoFlush() {
	once.Do(func() {
		go func() {
			t := time.NewTicker(flushIv)
			for range t.C {
				Flush(false)
			}
		}()
	})
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, args...) }

func log(sev severity, format string, args ...any) {
	write(sev, fmt.Sprintf(format, args...))
}

func logln(sev severity, args ...any) {
	write(sev, fmt.Sprintln(args...))
}

func write(sev severity, msg string) {
	startAutoFlush()
	hdr := header(sev)
	mu.Lock()
	out.WriteString(hdr)
	out.WriteString(msg)
	if !strings.HasSuffix(msg, "\n") {
		out.WriteByte('\n')
	}
	if sev >= sevWarn {
		out.Flush()
	}
	mu.Unlock()
}

func header(sev severity) string {
	now := time.Now()
	_, fn, ln, ok := runtime.Caller(3)
	if !ok {
		return fmt.Sprintf("%c %s ", sevChar[sev], now.Format("15:04:05.000000"))
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
		fn = fn[idx+1:]
	}
	return fmt.Sprintf("%c %s %s:%d ", sevChar[sev], now.Format("15:04:05.000000"), fn, ln)
}

// Flush writes buffered lines out; exit additionally fsyncs the underlying
// file (if any) and is meant to be called once, on process shutdown.
func Flush(exit bool) {
	mu.Lock()
	out.Flush()
	f := outFile
	mu.Unlock()
	if exit && f != nil {
		f.Sync()
	}
}
