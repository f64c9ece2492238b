//go:build !unix

package inproc

import "spdev/internal/errors"

type efd struct{}

func newEFD() (*efd, error) { return nil, errors.ErrUnsupported }

func (e *efd) fd() int     { return -1 }
func (e *efd) set(on bool) {}
func (e *efd) close()      {}
