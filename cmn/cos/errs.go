/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"sync"
)

// Errs accumulates distinct errors from concurrent producers (e.g. the
// writer and watchdog tasks racing to report connection failure) without
// duplicating identical messages. Adapted from the teacher's cmn/cos.Errs.
type Errs struct {
	errs []error
	mu   sync.Mutex
}

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, already := range e.errs {
		if already.Error() == err.Error() {
			return
		}
	}
	e.errs = append(e.errs, err)
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) JoinErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}
